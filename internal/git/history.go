package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNothingToRewrite reports a filter-branch pass that dropped every
// commit. Callers treat it as "the projection is empty", not a failure.
var ErrNothingToRewrite = errors.New("nothing to rewrite")

// FilterBranchIndex rewrites the history of ref by running filter as a
// shell command against each commit's index. extraEnv is visible to the
// filter, which is how the remap helper receives its configuration.
// Commits whose index ends up empty are pruned.
func (r *Repo) FilterBranchIndex(ctx context.Context, filter, ref string, extraEnv []string) error {
	env := append([]string{"FILTER_BRANCH_SQUELCH_WARNING=1"}, extraEnv...)
	out, err := r.runEnv(ctx, env, "filter-branch", "-f", "--prune-empty", "--index-filter", filter, ref)
	if err != nil {
		if strings.Contains(out, "Found nothing to rewrite") {
			return ErrNothingToRewrite
		}
		return err
	}
	return nil
}

// FilterBranchSubdir rewrites ref so subdir becomes the repository root,
// dropping commits that never touched it.
func (r *Repo) FilterBranchSubdir(ctx context.Context, subdir, ref string) error {
	env := []string{"FILTER_BRANCH_SQUELCH_WARNING=1"}
	out, err := r.runEnv(ctx, env, "filter-branch", "-f", "--prune-empty", "--subdirectory-filter", subdir, ref)
	if err != nil {
		if strings.Contains(out, "Found nothing to rewrite") {
			return ErrNothingToRewrite
		}
		return err
	}
	return nil
}

// FormatPatch writes one patch file per commit in (from, to] into outDir
// and returns the file paths in application order.
func (r *Repo) FormatPatch(ctx context.Context, outDir, from, to string) ([]string, error) {
	out, err := r.output(ctx, "format-patch", "-o", outDir, from+".."+to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// FormatPatchRoot writes every commit reachable from to, including the
// root, as patch files into outDir.
func (r *Repo) FormatPatchRoot(ctx context.Context, outDir, to string) ([]string, error) {
	out, err := r.output(ctx, "format-patch", "-o", outDir, "--root", to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Am applies a mailbox patch with three-way fallback. On conflict the am
// session stays open for manual resolution.
func (r *Repo) Am(ctx context.Context, patchFile string) error {
	return r.run(ctx, "am", "-3", patchFile)
}

// AmInProgress reports whether an am session is waiting for resolution.
func (r *Repo) AmInProgress(ctx context.Context) (bool, error) {
	out, err := r.output(ctx, "rev-parse", "--git-path", "rebase-apply")
	if err != nil {
		return false, err
	}
	p := out
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.Dir, p)
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AmContinue resumes the am session after the conflicted paths have been
// resolved and staged.
func (r *Repo) AmContinue(ctx context.Context) error {
	return r.run(ctx, "am", "--continue")
}

// AmAbort abandons the am session and restores the branch.
func (r *Repo) AmAbort(ctx context.Context) error {
	return r.run(ctx, "am", "--abort")
}

// EmptyCommit records a commit with no tree changes.
func (r *Repo) EmptyCommit(ctx context.Context, message string) error {
	return r.run(ctx, "commit", "--allow-empty", "-m", message)
}
