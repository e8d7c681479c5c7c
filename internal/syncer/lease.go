package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/subsync/subsync/internal/git"
)

const (
	// WorkBranch is the ephemeral source-repository branch the replay
	// happens on.
	WorkBranch = "subsync/work"
	// PreSyncTag marks the mirror tip before any series is applied.
	PreSyncTag = "subsync/pre-sync"
	// backupPrefix is where filter-branch keeps pre-rewrite refs.
	backupPrefix = "refs/original"
)

// StaleLeaseError reports resources left behind by a run that ended
// without releasing them.
type StaleLeaseError struct {
	Resource string
}

func (e *StaleLeaseError) Error() string {
	return fmt.Sprintf("%s already exists, likely left by an interrupted run; inspect it, then run \"subsync cleanup\"", e.Resource)
}

// lease owns every ephemeral resource of one run: the temporary
// directory, the work branch and its worktree in the source repository,
// the pre-sync tag in the mirror, and the backup refs the history
// rewrite creates. Acquired together, released together.
type lease struct {
	source *git.Repo
	mirror *git.Repo

	tmpDir     string
	workDir    string
	preSyncTip string

	worktreeGone bool
	released     bool
}

// acquire creates the run's resources, refusing when leftovers from an
// earlier run are in the way. squash is the commit the work branch
// starts from.
func acquire(ctx context.Context, source, mirror *git.Repo, squash string) (*lease, error) {
	if source.BranchExists(ctx, WorkBranch) {
		return nil, &StaleLeaseError{Resource: "branch " + WorkBranch}
	}
	if mirror.TagExists(ctx, PreSyncTag) {
		return nil, &StaleLeaseError{Resource: "tag " + PreSyncTag}
	}

	tip, err := mirror.ResolveCommit(ctx, "HEAD")
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "subsync-")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	l := &lease{
		source:     source,
		mirror:     mirror,
		tmpDir:     tmp,
		workDir:    filepath.Join(tmp, "work"),
		preSyncTip: tip,
	}
	if err := source.AddWorktree(ctx, l.workDir, WorkBranch, squash); err != nil {
		l.Release(ctx)
		return nil, err
	}
	if err := mirror.CreateTag(ctx, PreSyncTag, tip); err != nil {
		l.Release(ctx)
		return nil, err
	}
	return l, nil
}

// work returns a handle on the worktree checkout.
func (l *lease) work() *git.Repo {
	return git.At(l.workDir)
}

// seriesDir is where the exported patch series lands.
func (l *lease) seriesDir() string {
	return filepath.Join(l.tmpDir, "series")
}

// dropWorktree removes the worktree checkout while keeping the branch.
// The history rewrite needs the branch unchecked-out.
func (l *lease) dropWorktree(ctx context.Context) error {
	if l.worktreeGone {
		return nil
	}
	if err := l.source.RemoveWorktree(ctx, l.workDir); err != nil {
		return err
	}
	l.worktreeGone = true
	return nil
}

// Release removes whichever of the lease's resources exist. Safe to call
// more than once; failures are ignored so release never masks the error
// that brought the run down.
func (l *lease) Release(ctx context.Context) {
	if l.released {
		return
	}
	l.released = true

	if !l.worktreeGone {
		_ = l.source.RemoveWorktree(ctx, l.workDir)
	}
	_ = l.source.PruneWorktrees(ctx)
	if l.source.BranchExists(ctx, WorkBranch) {
		_ = l.source.DeleteBranch(ctx, WorkBranch)
	}
	dropBackupRefs(ctx, l.source)
	if l.mirror.TagExists(ctx, PreSyncTag) {
		_ = l.mirror.DeleteTag(ctx, PreSyncTag)
	}
	_ = os.RemoveAll(l.tmpDir)
}

// Keep marks every resource as deliberately retained and lists what an
// operator will find.
func (l *lease) Keep() []string {
	l.released = true
	kept := []string{l.tmpDir}
	if l.source.BranchExists(context.Background(), WorkBranch) {
		kept = append(kept, "branch "+WorkBranch+" in "+l.source.Dir)
	}
	if l.mirror.TagExists(context.Background(), PreSyncTag) {
		kept = append(kept, "tag "+PreSyncTag+" in "+l.mirror.Dir)
	}
	return kept
}

func dropBackupRefs(ctx context.Context, r *git.Repo) {
	refs, err := r.ListRefs(ctx, backupPrefix)
	if err != nil {
		return
	}
	for _, ref := range refs {
		_ = r.DeleteRef(ctx, ref)
	}
}

// Cleanup removes leftovers of an interrupted run from both repositories
// and returns a description of everything it removed. It is the recovery
// path StaleLeaseError points at.
func Cleanup(ctx context.Context, source, mirror *git.Repo) ([]string, error) {
	var removed []string

	worktrees, err := source.Worktrees(ctx)
	if err != nil {
		return removed, err
	}
	for _, wt := range worktrees {
		if wt.Branch != "refs/heads/"+WorkBranch {
			continue
		}
		if err := source.RemoveWorktree(ctx, wt.Path); err != nil {
			return removed, err
		}
		removed = append(removed, "worktree "+wt.Path)
	}
	_ = source.PruneWorktrees(ctx)

	if source.BranchExists(ctx, WorkBranch) {
		if err := source.DeleteBranch(ctx, WorkBranch); err != nil {
			return removed, err
		}
		removed = append(removed, "branch "+WorkBranch)
	}

	refs, err := source.ListRefs(ctx, backupPrefix)
	if err != nil {
		return removed, err
	}
	for _, ref := range refs {
		if err := source.DeleteRef(ctx, ref); err != nil {
			return removed, err
		}
		removed = append(removed, "ref "+ref)
	}

	if mirror.TagExists(ctx, PreSyncTag) {
		if err := mirror.DeleteTag(ctx, PreSyncTag); err != nil {
			return removed, err
		}
		removed = append(removed, "tag "+PreSyncTag)
	}
	return removed, nil
}
