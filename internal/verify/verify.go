// Package verify re-derives the mirror's expected content from the
// source tree and compares it against what the mirror actually holds.
//
// The check is deliberately independent of the replay and rewrite
// machinery: it projects tracked paths through the same Mapper but
// reads trees directly, so a defect anywhere in the pipeline surfaces
// here as a divergence instead of propagating silently into the mirror.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/pathmap"
)

// FileDiff is one differing path with its unified diff, source
// projection first.
type FileDiff struct {
	Path string
	Diff string
}

// Report is the outcome of one verification pass.
type Report struct {
	Checked int        // paths in the projection
	Missing []string   // projected from source, absent from the mirror
	Extra   []string   // in the mirror, not in the projection
	Changed []FileDiff // same path, different mode or content
}

// Clean reports full parity between projection and mirror.
func (r *Report) Clean() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Changed) == 0
}

// DivergenceError wraps an unclean report for callers that treat
// divergence as fatal.
type DivergenceError struct {
	Report *Report
}

func (e *DivergenceError) Error() string {
	r := e.Report
	return fmt.Sprintf("mirror diverges from the source projection: %d missing, %d extra, %d changed",
		len(r.Missing), len(r.Extra), len(r.Changed))
}

// Verifier compares a source revision's projection with a mirror
// revision.
type Verifier struct {
	Source *git.Repo
	Mirror *git.Repo
	Mapper *pathmap.Mapper
}

// Verify projects the tracked paths of sourceRev and compares the
// result with mirrorRev. Mechanical failures come back as an error;
// content findings land in the report.
func (v *Verifier) Verify(ctx context.Context, sourceRev, mirrorRev string) (*Report, error) {
	srcEntries, err := v.Source.LsTree(ctx, sourceRev, v.Mapper.SourcePaths())
	if err != nil {
		return nil, fmt.Errorf("listing source tree: %w", err)
	}

	projected := make(map[string]projectedEntry, len(srcEntries))
	for p, meta := range srcEntries {
		mp, ok := v.Mapper.Map(p)
		if !ok {
			continue
		}
		projected[mp] = projectedEntry{sourcePath: p, meta: meta}
	}

	mirrorAll, err := v.Mirror.LsTree(ctx, mirrorRev, nil)
	if err != nil {
		return nil, fmt.Errorf("listing mirror tree: %w", err)
	}
	mirrorEntries := make(map[string]string, len(mirrorAll))
	for p, meta := range mirrorAll {
		if v.Mapper.Excluded(p) {
			continue
		}
		mirrorEntries[p] = meta
	}

	rep := &Report{Checked: len(projected)}

	for mp, pe := range projected {
		got, ok := mirrorEntries[mp]
		if !ok {
			rep.Missing = append(rep.Missing, mp)
			continue
		}
		if got != pe.meta {
			diff, err := v.contentDiff(ctx, sourceRev, pe.sourcePath, mirrorRev, mp)
			if err != nil {
				return nil, err
			}
			rep.Changed = append(rep.Changed, FileDiff{Path: mp, Diff: diff})
		}
	}
	for mp := range mirrorEntries {
		if _, ok := projected[mp]; !ok {
			rep.Extra = append(rep.Extra, mp)
		}
	}

	sort.Strings(rep.Missing)
	sort.Strings(rep.Extra)
	sort.Slice(rep.Changed, func(i, j int) bool { return rep.Changed[i].Path < rep.Changed[j].Path })
	return rep, nil
}

type projectedEntry struct {
	sourcePath string
	meta       string
}

// contentDiff extracts both sides of a differing path and diffs them.
// A mode-only difference produces an empty diff body, which still
// counts as a change.
func (v *Verifier) contentDiff(ctx context.Context, sourceRev, sourcePath, mirrorRev, mirrorPath string) (string, error) {
	srcBlob, err := v.Source.CatBlob(ctx, sourceRev, sourcePath)
	if err != nil {
		return "", fmt.Errorf("reading source %s: %w", sourcePath, err)
	}
	mirBlob, err := v.Mirror.CatBlob(ctx, mirrorRev, mirrorPath)
	if err != nil {
		return "", fmt.Errorf("reading mirror %s: %w", mirrorPath, err)
	}

	tmp, err := os.MkdirTemp("", "subsync-verify-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	a := filepath.Join(tmp, "source")
	b := filepath.Join(tmp, "mirror")
	if err := os.WriteFile(a, srcBlob, 0o600); err != nil {
		return "", err
	}
	if err := os.WriteFile(b, mirBlob, 0o600); err != nil {
		return "", err
	}
	return v.Mirror.DiffNoIndex(ctx, a, b)
}
