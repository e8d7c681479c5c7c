package git

import (
	"context"
	"fmt"
	"strings"
)

// CherryPick applies one commit onto the current branch. Picks whose change
// is already present become empty commits rather than failures so a
// replayed series keeps its length.
func (r *Repo) CherryPick(ctx context.Context, hash string) error {
	return r.run(ctx, "cherry-pick", "--allow-empty", "--allow-empty-message", "--keep-redundant-commits", hash)
}

// CherryPickInProgress reports whether a cherry-pick is waiting for
// resolution.
func (r *Repo) CherryPickInProgress(ctx context.Context) bool {
	return r.check(ctx, "rev-parse", "-q", "--verify", "CHERRY_PICK_HEAD")
}

// ContinueCherryPick finishes a conflicted cherry-pick once every path has
// been resolved and staged. The editor is suppressed; the original message
// is kept.
func (r *Repo) ContinueCherryPick(ctx context.Context) error {
	return r.run(ctx, "-c", "core.editor=true", "cherry-pick", "--continue")
}

// AbortCherryPick returns the working tree to its pre-pick state.
func (r *Repo) AbortCherryPick(ctx context.Context) error {
	return r.run(ctx, "cherry-pick", "--abort")
}

// UnmergedPaths lists the repository-relative paths left in conflict by the
// current cherry-pick.
func (r *Repo) UnmergedPaths(ctx context.Context) ([]string, error) {
	out, err := r.outputRaw(ctx, "diff", "--name-only", "--diff-filter=U", "-z")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range strings.Split(string(out), "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// StageExists reports whether the index holds the given stage for a path.
// Stage 3 is the incoming side of a conflict; its absence means the
// incoming change deleted the file.
func (r *Repo) StageExists(ctx context.Context, stage int, path string) bool {
	return r.check(ctx, "cat-file", "-e", fmt.Sprintf(":%d:%s", stage, path))
}

// CheckoutTheirs replaces a conflicted path with the incoming side.
func (r *Repo) CheckoutTheirs(ctx context.Context, path string) error {
	return r.run(ctx, "checkout", "--theirs", "--", path)
}

// Add stages paths.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	return r.run(ctx, append([]string{"add", "--"}, paths...)...)
}

// RemoveForce removes a path from the index and working tree, tolerating
// unmerged entries.
func (r *Repo) RemoveForce(ctx context.Context, path string) error {
	return r.run(ctx, "rm", "-f", "--", path)
}
