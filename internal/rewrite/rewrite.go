// Package rewrite projects the working line into mirror-shaped history
// and exports it as a patch series.
//
// Two history passes run in sequence. The move pass rewrites every
// commit's index: tracked paths are relocated under a staging root and
// everything else is dropped. The promotion pass re-roots history at
// the staging root, so the mirror layout becomes the repository layout.
// Both passes prune commits whose projected change is empty, which is
// how redundant picks and excluded-only changes disappear from the
// series. Commit metadata (author, date, message) survives untouched.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/pathmap"
)

// BaselineSubject marks the synthetic squash commit at the bottom of the
// working line. Export uses it to tell a surviving baseline apart from a
// projection whose baseline mapped to nothing.
const BaselineSubject = "subsync baseline"

// SummaryPatchName is the synthesized leading entry of every series.
const SummaryPatchName = "0000-subsync-checkpoints.patch"

// Environment contract between the move pass and the remap helper it
// shells out to.
const (
	// EnvSelf points the index filter back at the subsync binary.
	EnvSelf = "SUBSYNC_SELF"
	// EnvRemapConfig carries the mapping file path into the helper.
	EnvRemapConfig = "SUBSYNC_REMAP_CONFIG"
)

// moveFilter streams each commit's index through the remap helper and
// swaps the rewritten index in. Entries the helper drops vanish from
// the commit; an all-dropped index leaves an empty commit for
// --prune-empty to collect.
const moveFilter = `git ls-files -s -z | "$` + EnvSelf + `" remap-index | GIT_INDEX_FILE="$GIT_INDEX_FILE.new" git update-index -z --index-info && mv "$GIT_INDEX_FILE.new" "$GIT_INDEX_FILE"`

// ErrEmptyProjection reports that no new commit survived projection.
// The run is a no-op, not a failure.
var ErrEmptyProjection = errors.New("no commits remain after projection")

// Movement is one branch's checkpoint advance.
type Movement struct {
	Branch string
	Old    string
	New    string
}

// Summary records a run's checkpoint movement for both upstream
// branches. It becomes the series' leading patch and the mirror commit
// created from it, keeping the mirror history self-documenting.
type Summary struct {
	Primary   Movement
	Secondary Movement
}

// Subject is the first line of the summary commit message.
func (s Summary) Subject() string {
	return fmt.Sprintf("subsync: sync %s and %s", s.Primary.Branch, s.Secondary.Branch)
}

// Message is the full summary commit message. Hashes are kept complete
// so checkpoints can be recovered from mirror history alone.
func (s Summary) Message() string {
	return s.Subject() + "\n\n" +
		fmt.Sprintf("primary %s: %s -> %s\n", s.Primary.Branch, s.Primary.Old, s.Primary.New) +
		fmt.Sprintf("secondary %s: %s -> %s\n", s.Secondary.Branch, s.Secondary.Old, s.Secondary.New)
}

// WritePatch writes the summary as a mailbox-style file in dir and
// returns its path. The file is informational; the commit it describes
// is created directly rather than applied from it.
func (s Summary) WritePatch(dir string) (string, error) {
	p := filepath.Join(dir, SummaryPatchName)

	var b strings.Builder
	b.WriteString("From 0000000000000000000000000000000000000000 Mon Sep 17 00:00:00 2001\n")
	b.WriteString("From: subsync <subsync@localhost>\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\n")
	b.WriteString("Subject: " + s.Subject() + "\n")
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("primary %s: %s -> %s\n", s.Primary.Branch, s.Primary.Old, s.Primary.New))
	b.WriteString(fmt.Sprintf("secondary %s: %s -> %s\n", s.Secondary.Branch, s.Secondary.Old, s.Secondary.New))

	if err := os.WriteFile(p, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing summary patch: %w", err)
	}
	return p, nil
}

// Series is the exportable result of a rewrite: the summary followed by
// one patch per projected commit, in application order.
type Series struct {
	Dir         string
	SummaryFile string
	Patches     []string
	Summary     Summary
}

// Len counts the series entries including the summary.
func (s *Series) Len() int {
	return len(s.Patches) + 1
}

// Rewriter runs the projection passes over a work branch and exports
// the result.
type Rewriter struct {
	Work    *git.Repo
	Branch  string
	SelfExe string // subsync binary, re-invoked as the remap helper
	Mapping string // mapping file handed to the helper
}

// Project rewrites the work branch in place: move pass, then promotion
// pass. Afterwards the branch holds mirror-shaped history.
func (rw *Rewriter) Project(ctx context.Context) error {
	env := []string{
		EnvSelf + "=" + rw.SelfExe,
		EnvRemapConfig + "=" + rw.Mapping,
	}
	if err := rw.Work.FilterBranchIndex(ctx, moveFilter, rw.Branch, env); err != nil {
		if errors.Is(err, git.ErrNothingToRewrite) {
			return ErrEmptyProjection
		}
		return fmt.Errorf("move pass: %w", err)
	}
	if err := rw.Work.FilterBranchSubdir(ctx, pathmap.StagingRoot, rw.Branch); err != nil {
		if errors.Is(err, git.ErrNothingToRewrite) {
			return ErrEmptyProjection
		}
		return fmt.Errorf("promotion pass: %w", err)
	}
	return nil
}

// Export writes the projected commits as a patch series into dir,
// leading with the summary. ErrEmptyProjection means nothing new
// survived and the mirror must not be touched.
func (rw *Rewriter) Export(ctx context.Context, dir string, sum Summary) (*Series, error) {
	root, err := rw.Work.RootCommit(ctx, rw.Branch)
	if err != nil {
		return nil, err
	}
	subject, err := rw.Work.Subject(ctx, root)
	if err != nil {
		return nil, err
	}

	var patches []string
	if subject == BaselineSubject {
		patches, err = rw.Work.FormatPatch(ctx, dir, root, rw.Branch)
	} else {
		// The baseline projected to nothing and was pruned, so every
		// surviving commit is new content.
		patches, err = rw.Work.FormatPatchRoot(ctx, dir, rw.Branch)
	}
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return nil, ErrEmptyProjection
	}

	summaryFile, err := sum.WritePatch(dir)
	if err != nil {
		return nil, err
	}
	return &Series{
		Dir:         dir,
		SummaryFile: summaryFile,
		Patches:     patches,
		Summary:     sum,
	}, nil
}
