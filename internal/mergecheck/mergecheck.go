// Package mergecheck guards the replay against merge commits that carry
// changes of their own. Replaying skips merges, so a merge whose combined
// diff is non-empty on tracked paths would silently drop work from the
// mirror; the run must abort before mutating anything.
package mergecheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/subsync/subsync/internal/git"
)

// NonEmptyMergeError reports a merge in the candidate range that
// introduces changes beyond what its parents brought in.
type NonEmptyMergeError struct {
	Branch  string
	Commit  string
	Summary string // leading lines of the combined diff
}

func (e *NonEmptyMergeError) Error() string {
	return fmt.Sprintf("merge %s on %s introduces changes of its own to tracked paths; flatten it before syncing", e.Commit, e.Branch)
}

// summaryLines bounds how much combined diff travels inside the error.
const summaryLines = 20

// Check scans the merges in (baseline, tip] touching tracked paths and
// fails on the first one whose combined diff is not empty. Clean merges,
// and merges that only pull in one side, pass.
func Check(ctx context.Context, repo *git.Repo, branch, baseline, tip string, tracked []string) error {
	merges, err := repo.ListMerges(ctx, baseline, tip, tracked)
	if err != nil {
		return fmt.Errorf("listing merges on %s: %w", branch, err)
	}

	for _, m := range merges {
		cc, err := repo.DiffTreeCC(ctx, m, tracked)
		if err != nil {
			return fmt.Errorf("inspecting merge %s: %w", m, err)
		}
		if cc != "" {
			return &NonEmptyMergeError{
				Branch:  branch,
				Commit:  m,
				Summary: firstLines(cc, summaryLines),
			}
		}
	}
	return nil
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
