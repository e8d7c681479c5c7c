// Package replay walks new upstream commits in order and applies the
// ones the mirror does not already carry onto the working line.
//
// Each candidate passes through a small state machine: fingerprint it,
// look the fingerprint up in the mirror's history, then apply, skip, or
// ask. Conflicts on paths the mirror never sees are taken from the
// incoming side automatically; conflicts on mirrored paths pause the
// run for the operator.
package replay

import (
	"context"
	"fmt"

	"github.com/subsync/subsync/internal/decide"
	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/pathmap"
	"github.com/subsync/subsync/internal/signature"
)

// Outcome classifies what happened to one candidate commit.
type Outcome int

const (
	// Applied means the commit replayed cleanly.
	Applied Outcome = iota
	// Skipped means the mirror already carries the change.
	Skipped
	// AutoResolved means the commit conflicted only on paths outside
	// the mirror and was finished by taking the incoming side.
	AutoResolved
	// ManualResolved means the operator resolved the conflict.
	ManualResolved
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case AutoResolved:
		return "auto-resolved"
	case ManualResolved:
		return "manually resolved"
	}
	return "unknown"
}

// Result records the fate of one candidate.
type Result struct {
	Commit   git.Commit
	Branch   string
	Outcome  Outcome
	Matches  []git.Commit // mirror commits sharing the signature
	Conflict []string     // unmerged paths, when the pick conflicted
}

// Tally sums outcomes across a run.
type Tally struct {
	Applied        int
	Skipped        int
	AutoResolved   int
	ManualResolved int
}

// Replayed counts the commits that made it onto the working line.
func (t Tally) Replayed() int {
	return t.Applied + t.AutoResolved + t.ManualResolved
}

// Count tallies the outcomes of results.
func Count(results []Result) Tally {
	var t Tally
	for _, r := range results {
		switch r.Outcome {
		case Applied:
			t.Applied++
		case Skipped:
			t.Skipped++
		case AutoResolved:
			t.AutoResolved++
		case ManualResolved:
			t.ManualResolved++
		}
	}
	return t
}

// Orchestrator replays candidate ranges onto the working line. The two
// upstream branches are replayed as two sequential calls over the same
// checkout, never interleaved.
type Orchestrator struct {
	Work    *git.Repo // checkout of the working line
	Mapper  *pathmap.Mapper
	Index   *signature.Index // mirror fingerprints, read-only for the run
	Decider decide.Decider
	Manual  bool // confirm single-match skips instead of assuming them
}

// Replay applies one branch's candidates oldest first. The returned
// results cover the candidates that were decided before any failure.
// On error the working line is left without a pick in progress.
func (o *Orchestrator) Replay(ctx context.Context, branch string, candidates []git.Commit) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		res, err := o.replayOne(ctx, branch, c)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) replayOne(ctx context.Context, branch string, c git.Commit) (Result, error) {
	res := Result{Commit: c, Branch: branch}

	matches := o.Index.Lookup(signature.Compute(c))
	res.Matches = matches

	apply, err := o.shouldApply(c, matches)
	if err != nil {
		return res, err
	}
	if !apply {
		res.Outcome = Skipped
		return res, nil
	}

	pickErr := o.Work.CherryPick(ctx, c.Hash)
	if pickErr == nil {
		res.Outcome = Applied
		return res, nil
	}
	if !o.Work.CherryPickInProgress(ctx) {
		return res, fmt.Errorf("cherry-pick %s: %w", c.Hash, pickErr)
	}

	unmerged, err := o.Work.UnmergedPaths(ctx)
	if err != nil {
		o.abandon(ctx)
		return res, err
	}
	res.Conflict = unmerged

	if o.onlyUntracked(unmerged) {
		if err := o.autoResolve(ctx, unmerged); err != nil {
			o.abandon(ctx)
			return res, err
		}
		res.Outcome = AutoResolved
		return res, nil
	}

	if err := o.manualResolve(ctx, c, unmerged); err != nil {
		return res, err
	}
	res.Outcome = ManualResolved
	return res, nil
}

// shouldApply implements the duplicate policy: no match applies, a
// single match skips unless manual mode wants confirmation, and an
// ambiguous match always asks.
func (o *Orchestrator) shouldApply(c git.Commit, matches []git.Commit) (bool, error) {
	if len(matches) == 0 {
		return true, nil
	}
	if len(matches) == 1 && !o.Manual {
		return false, nil
	}
	choice, err := o.Decider.PickDuplicate(c, matches)
	if err != nil {
		return false, err
	}
	return choice == decide.ChoiceApply, nil
}

func (o *Orchestrator) onlyUntracked(paths []string) bool {
	for _, p := range paths {
		if o.Mapper.Tracked(p) {
			return false
		}
	}
	return true
}

// autoResolve takes the incoming side for every conflicted path and
// finishes the pick. A path with no incoming stage was deleted by the
// commit being replayed, so it is removed instead.
func (o *Orchestrator) autoResolve(ctx context.Context, unmerged []string) error {
	for _, p := range unmerged {
		if o.Work.StageExists(ctx, 3, p) {
			if err := o.Work.CheckoutTheirs(ctx, p); err != nil {
				return err
			}
			if err := o.Work.Add(ctx, p); err != nil {
				return err
			}
			continue
		}
		if err := o.Work.RemoveForce(ctx, p); err != nil {
			return err
		}
	}
	return o.Work.ContinueCherryPick(ctx)
}

// manualResolve pauses until the operator has resolved and staged the
// conflicted paths, then finishes the pick. Declining aborts the pick
// so the working line is not left mid-conflict.
func (o *Orchestrator) manualResolve(ctx context.Context, c git.Commit, unmerged []string) error {
	for {
		r, err := o.Decider.ResolveConflict(c, o.Work.Dir, unmerged)
		if err != nil {
			o.abandon(ctx)
			return err
		}
		if r != decide.ResolveContinue {
			o.abandon(ctx)
			return fmt.Errorf("replay of %s: %w", c.Hash, decide.ErrDeclined)
		}

		contErr := o.Work.ContinueCherryPick(ctx)
		if contErr == nil {
			return nil
		}
		if !o.Work.CherryPickInProgress(ctx) {
			return contErr
		}

		// Something is still unstaged; show the remaining paths and ask
		// again.
		unmerged, err = o.Work.UnmergedPaths(ctx)
		if err != nil {
			o.abandon(ctx)
			return err
		}
	}
}

func (o *Orchestrator) abandon(ctx context.Context) {
	if o.Work.CherryPickInProgress(ctx) {
		_ = o.Work.AbortCherryPick(ctx)
	}
}
