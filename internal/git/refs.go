package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ResolveCommit resolves any revision expression to a full commit hash.
func (r *Repo) ResolveCommit(ctx context.Context, rev string) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q to a commit: %w", rev, err)
	}
	return out, nil
}

// TreeOf returns the tree hash of a revision.
func (r *Repo) TreeOf(ctx context.Context, rev string) (string, error) {
	return r.output(ctx, "rev-parse", "--verify", rev+"^{tree}")
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when
// detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	return r.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// IsAncestor reports whether anc is an ancestor of (or equal to) desc.
func (r *Repo) IsAncestor(ctx context.Context, anc, desc string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", r.Dir, "merge-base", "--is-ancestor", anc, desc)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base failed: %w\n%s", err, out)
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	return r.check(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
}

// CreateBranchAt creates a local branch pointing at rev without checking
// it out.
func (r *Repo) CreateBranchAt(ctx context.Context, name, rev string) error {
	return r.run(ctx, "branch", name, rev)
}

// DeleteBranch removes a local branch regardless of merge state.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	return r.run(ctx, "branch", "-D", name)
}

// TagExists reports whether a tag exists.
func (r *Repo) TagExists(ctx context.Context, name string) bool {
	return r.check(ctx, "show-ref", "--verify", "--quiet", "refs/tags/"+name)
}

// CreateTag creates a lightweight tag at rev. Fails if the tag exists.
func (r *Repo) CreateTag(ctx context.Context, name, rev string) error {
	return r.run(ctx, "tag", name, rev)
}

// DeleteTag removes a tag.
func (r *Repo) DeleteTag(ctx context.Context, name string) error {
	return r.run(ctx, "tag", "-d", name)
}

// DeleteRef removes an arbitrary ref, such as a filter-branch backup under
// refs/original.
func (r *Repo) DeleteRef(ctx context.Context, ref string) error {
	return r.run(ctx, "update-ref", "-d", ref)
}

// ListRefs returns the full ref names under a prefix.
func (r *Repo) ListRefs(ctx context.Context, prefix string) ([]string, error) {
	out, err := r.output(ctx, "for-each-ref", "--format=%(refname)", prefix)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// AddWorktree creates a worktree at path with a new branch starting at rev.
func (r *Repo) AddWorktree(ctx context.Context, path, branch, rev string) error {
	return r.run(ctx, "worktree", "add", "-b", branch, path, rev)
}

// Worktree describes one entry of the repository's worktree list.
type Worktree struct {
	Path   string
	Branch string // full ref name, empty when detached
}

// Worktrees lists the repository's worktrees, the main one included.
func (r *Repo) Worktrees(ctx context.Context) ([]Worktree, error) {
	out, err := r.output(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var (
		list []Worktree
		cur  *Worktree
	)
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				list = append(list, *cur)
			}
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(line, "branch ")
		}
	}
	if cur != nil {
		list = append(list, *cur)
	}
	return list, nil
}

// RemoveWorktree detaches a worktree, discarding whatever it holds.
func (r *Repo) RemoveWorktree(ctx context.Context, path string) error {
	return r.run(ctx, "worktree", "remove", "--force", path)
}

// PruneWorktrees drops bookkeeping for worktrees whose directories are gone.
func (r *Repo) PruneWorktrees(ctx context.Context) error {
	return r.run(ctx, "worktree", "prune")
}

// CommitTree records a parentless commit wrapping an existing tree and
// returns its hash.
func (r *Repo) CommitTree(ctx context.Context, tree, message string) (string, error) {
	return r.output(ctx, "commit-tree", tree, "-m", message)
}

// LsTree returns every blob reachable from rev under paths, keyed by
// repository-relative path with "<mode> <hash>" values. Mode is part of
// the value so permission changes count as differences.
func (r *Repo) LsTree(ctx context.Context, rev string, paths []string) (map[string]string, error) {
	args := []string{"ls-tree", "-r", "-z", "--full-tree", rev}
	args = appendPathspec(args, paths)

	out, err := r.outputRaw(ctx, args...)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]string)
	for _, rec := range strings.Split(string(out), "\x00") {
		if rec == "" {
			continue
		}
		tab := strings.IndexByte(rec, '\t')
		if tab < 0 {
			return nil, fmt.Errorf("unparseable ls-tree record %q", rec)
		}
		meta := strings.Fields(rec[:tab])
		if len(meta) != 3 {
			return nil, fmt.Errorf("unparseable ls-tree record %q", rec)
		}
		if meta[1] != "blob" {
			continue
		}
		entries[rec[tab+1:]] = meta[0] + " " + meta[2]
	}
	return entries, nil
}

// CatBlob returns the raw content of a file at a revision.
func (r *Repo) CatBlob(ctx context.Context, rev, path string) ([]byte, error) {
	return r.outputRaw(ctx, "cat-file", "blob", rev+":"+path)
}

// DiffNoIndex compares two files outside any index and returns the unified
// diff, empty when identical.
func (r *Repo) DiffNoIndex(ctx context.Context, a, b string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", r.Dir, "diff", "--no-index", "--", a, b)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return "", nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return string(out), nil
	}
	return "", fmt.Errorf("git diff --no-index failed: %w\n%s", err, out)
}
