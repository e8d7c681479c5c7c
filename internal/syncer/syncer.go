// Package syncer drives a complete synchronization run. Planning is
// read-only: resolve branches and baselines, list candidates, gate on
// merges. Execution then replays candidates onto an ephemeral working
// line, projects it into mirror shape, applies the exported series to
// the mirror, verifies the result, and advances the checkpoints. Every
// ephemeral resource belongs to a scoped lease released on all paths.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/subsync/subsync/internal/checkpoint"
	"github.com/subsync/subsync/internal/config"
	"github.com/subsync/subsync/internal/decide"
	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/mergecheck"
	"github.com/subsync/subsync/internal/pathmap"
	"github.com/subsync/subsync/internal/replay"
	"github.com/subsync/subsync/internal/rewrite"
	"github.com/subsync/subsync/internal/signature"
	"github.com/subsync/subsync/internal/telemetry"
	"github.com/subsync/subsync/internal/ui"
	"github.com/subsync/subsync/internal/verify"
)

// ErrNothingToSync reports that the mirror already carries every tracked
// change. The mirror is untouched and the checkpoints stay where they
// were.
var ErrNothingToSync = errors.New("mirror already carries every tracked change")

// Syncer runs the pipeline for one source/mirror pair.
type Syncer struct {
	Config  *config.Config
	Source  *git.Repo
	Mirror  *git.Repo
	Mapper  *pathmap.Mapper
	Decider decide.Decider

	// SelfExe is the running binary, re-invoked by the history rewrite
	// as its index remapper.
	SelfExe string

	// Out receives progress lines. Nil means silent.
	Out io.Writer

	Metrics *telemetry.RunMetrics
}

// BranchReport is one upstream branch's slice of a run report.
type BranchReport struct {
	Branch   string
	Baseline string
	Tip      string
	Results  []replay.Result
	Tally    replay.Tally
}

// Report summarizes a completed run.
type Report struct {
	Primary   BranchReport
	Secondary BranchReport

	Series    int    // series entries applied to the mirror, summary included
	MirrorTip string // mirror HEAD after the series

	Consistency *verify.Report
	Downgraded  bool // divergence found but configured as a warning
}

// line is one branch's slice of the plan.
type line struct {
	name       string
	branch     string
	baseline   string
	tip        string
	candidates []git.Commit
}

// plan is everything decided before any repository is touched.
type plan struct {
	primary   line
	secondary line
	index     *signature.Index
}

// Run executes the pipeline. A nil report with ErrNothingToSync means
// the run ended early as a no-op.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	if s.Metrics == nil {
		s.Metrics = telemetry.NewRunMetrics()
	}
	ctx, span, started := s.Metrics.StartRun(ctx, s.Config.SourceDir, s.Config.MirrorDir)
	rep, err := s.run(ctx)
	s.Metrics.EndRun(ctx, span, started, outcomeOf(err), err)
	return rep, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "synced"
	case errors.Is(err, ErrNothingToSync):
		return "nothing-to-sync"
	default:
		return "failed"
	}
}

func (s *Syncer) run(ctx context.Context) (rep *Report, rerr error) {
	p, err := s.plan(ctx)
	if err != nil {
		return nil, err
	}

	if len(p.primary.candidates) == 0 && len(p.secondary.candidates) == 0 {
		return nil, ErrNothingToSync
	}

	stepCtx, span := s.Metrics.StartStep(ctx, "mergecheck")
	err = s.gateMerges(stepCtx, p)
	span.End()
	if err != nil {
		return nil, err
	}

	squash, err := s.squashBase(ctx, p.primary.baseline)
	if err != nil {
		return nil, err
	}
	l, err := acquire(ctx, s.Source, s.Mirror, squash)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr != nil && !errors.Is(rerr, ErrNothingToSync) && s.Config.KeepWorkdir {
			for _, kept := range l.Keep() {
				s.say("%s kept %s", ui.RenderInfoIcon(), kept)
			}
			return
		}
		l.Release(context.WithoutCancel(ctx))
	}()

	rep = &Report{
		Primary:   BranchReport{Branch: p.primary.branch, Baseline: p.primary.baseline, Tip: p.primary.tip},
		Secondary: BranchReport{Branch: p.secondary.branch, Baseline: p.secondary.baseline, Tip: p.secondary.tip},
	}

	if err := s.replayLines(ctx, p, l, rep); err != nil {
		return nil, err
	}

	series, err := s.project(ctx, p, l)
	if err != nil {
		return nil, err
	}
	rep.Series = series.Len()

	stepCtx, span = s.Metrics.StartStep(ctx, "apply")
	err = s.applySeries(stepCtx, series)
	span.End()
	if err != nil {
		s.sayRestoreHint(l)
		return nil, err
	}
	s.Metrics.RecordPatches(ctx, series.Len())

	rep.MirrorTip, err = s.Mirror.ResolveCommit(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	s.say("%s mirror advanced to %s (%d series entries)", ui.RenderPassIcon(), ui.RenderHash(rep.MirrorTip), series.Len())

	if err := s.verifyParity(ctx, p, l, rep); err != nil {
		return nil, err
	}

	if err := checkpoint.Write(s.Config.MirrorDir, checkpoint.Primary, p.primary.tip); err != nil {
		return nil, err
	}
	if err := checkpoint.Write(s.Config.MirrorDir, checkpoint.Secondary, p.secondary.tip); err != nil {
		return nil, err
	}
	s.say("%s checkpoints advanced: %s %s, %s %s",
		ui.RenderPassIcon(),
		ui.RenderBranch(p.primary.branch), ui.RenderHash(p.primary.tip),
		ui.RenderBranch(p.secondary.branch), ui.RenderHash(p.secondary.tip))

	return rep, nil
}

// plan resolves branches, baselines, and candidates, and builds the
// signature index. Nothing here mutates either repository.
func (s *Syncer) plan(ctx context.Context) (*plan, error) {
	ctx, span := s.Metrics.StartStep(ctx, "plan")
	defer span.End()

	if err := s.preflight(ctx); err != nil {
		return nil, err
	}

	primaryBranch := s.Config.PrimaryBranch
	if primaryBranch == "" {
		head, err := s.Source.CurrentBranch(ctx)
		if err != nil {
			return nil, err
		}
		if head == "HEAD" {
			return nil, &config.ValidationError{
				Field:   config.KeyPrimaryBranch,
				Message: "source HEAD is detached; name the primary branch explicitly",
			}
		}
		primaryBranch = head
	}
	if primaryBranch == s.Config.SecondaryBranch {
		return nil, &config.ValidationError{
			Field:   "secondary-branch",
			Message: "primary and secondary branches are the same",
		}
	}

	primary, err := s.planLine(ctx, "primary", primaryBranch, s.Config.PrimaryBase, checkpoint.Primary)
	if err != nil {
		return nil, err
	}
	secondary, err := s.planLine(ctx, "secondary", s.Config.SecondaryBranch, s.Config.SecondaryBase, checkpoint.Secondary)
	if err != nil {
		return nil, err
	}

	window, err := s.Mirror.LogRecent(ctx, "HEAD", s.Config.SignatureWindow, s.Mapper.MirrorPathspecs())
	if err != nil {
		return nil, err
	}

	p := &plan{primary: primary, secondary: secondary, index: signature.NewIndex(window)}
	s.sayPlan(p)
	return p, nil
}

// preflight rejects mirrors a series cannot be applied to.
func (s *Syncer) preflight(ctx context.Context) error {
	if _, err := s.Mirror.ResolveCommit(ctx, "HEAD"); err != nil {
		return &config.ValidationError{
			Field:   "mirror",
			Message: "repository has no commits; commit the mapping file first",
		}
	}
	clean, err := s.Mirror.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return &config.ValidationError{
			Field:   "mirror",
			Message: "working tree has uncommitted changes; commit or stash them before syncing",
		}
	}
	return nil
}

// planLine resolves one branch's tip, baseline, and candidate range.
func (s *Syncer) planLine(ctx context.Context, name, branch, override string, cp checkpoint.Line) (line, error) {
	ln := line{name: name, branch: branch}

	tip, err := s.Source.ResolveCommit(ctx, branch)
	if err != nil {
		return ln, fmt.Errorf("%s branch: %w", name, err)
	}
	ln.tip = tip

	base := override
	if base == "" {
		base, err = checkpoint.Read(s.Config.MirrorDir, cp)
		var notFound *checkpoint.NotFoundError
		if errors.As(err, &notFound) {
			return ln, fmt.Errorf("%w; set %s to bootstrap the first sync", err, overrideEnv(cp))
		}
		if err != nil {
			return ln, err
		}
	}
	ln.baseline, err = s.Source.ResolveCommit(ctx, base)
	if err != nil {
		return ln, fmt.Errorf("%s baseline: %w", name, err)
	}

	ok, err := s.Source.IsAncestor(ctx, ln.baseline, tip)
	if err != nil {
		return ln, err
	}
	if !ok {
		return ln, &config.ValidationError{
			Field: name + " baseline",
			Message: fmt.Sprintf("%s is not an ancestor of the %s tip %s; the branch was rewritten or the checkpoint is stale",
				ui.ShortHash(ln.baseline), branch, ui.ShortHash(tip)),
		}
	}

	ln.candidates, err = s.Source.LogRange(ctx, ln.baseline, tip, s.Mapper.SourcePaths())
	if err != nil {
		return ln, err
	}
	return ln, nil
}

func overrideEnv(cp checkpoint.Line) string {
	if cp == checkpoint.Primary {
		return config.EnvVar(config.KeyPrimaryBase)
	}
	return config.EnvVar(config.KeySecondaryBase)
}

// gateMerges refuses the run when either range contains a merge that
// introduces changes of its own to tracked paths.
func (s *Syncer) gateMerges(ctx context.Context, p *plan) error {
	tracked := s.Mapper.SourcePaths()
	if err := mergecheck.Check(ctx, s.Source, p.primary.branch, p.primary.baseline, p.primary.tip, tracked); err != nil {
		return err
	}
	return mergecheck.Check(ctx, s.Source, p.secondary.branch, p.secondary.baseline, p.secondary.tip, tracked)
}

// squashBase records a parentless commit holding the baseline's tree.
// The working line grows from it, so irrelevant pre-history never enters
// the rewrite.
func (s *Syncer) squashBase(ctx context.Context, baseline string) (string, error) {
	tree, err := s.Source.TreeOf(ctx, baseline)
	if err != nil {
		return "", err
	}
	return s.Source.CommitTree(ctx, tree, rewrite.BaselineSubject)
}

// replayLines replays the primary range and then the secondary range
// onto the working line, never interleaved.
func (s *Syncer) replayLines(ctx context.Context, p *plan, l *lease, rep *Report) error {
	ctx, span := s.Metrics.StartStep(ctx, "replay")
	defer span.End()

	orch := &replay.Orchestrator{
		Work:    l.work(),
		Mapper:  s.Mapper,
		Index:   p.index,
		Decider: s.Decider,
		Manual:  s.Config.Manual,
	}

	for _, ln := range []*line{&p.primary, &p.secondary} {
		if len(ln.candidates) == 0 {
			continue
		}
		s.say("%s replaying %s", ui.RenderInfoIcon(), ui.RenderBranch(ln.branch))

		results, err := orch.Replay(ctx, ln.branch, ln.candidates)
		for _, r := range results {
			s.sayResult(r)
		}
		tally := replay.Count(results)
		s.Metrics.RecordReplay(ctx, ln.branch, tally.Applied, tally.Skipped, tally.AutoResolved, tally.ManualResolved)

		br := &rep.Primary
		if ln.name == "secondary" {
			br = &rep.Secondary
		}
		br.Results = results
		br.Tally = tally

		if err != nil {
			return err
		}
	}
	return nil
}

// project turns the working line into mirror-shaped history and exports
// it as a patch series. The worktree goes away first so the rewrite
// operates on an unchecked-out branch.
func (s *Syncer) project(ctx context.Context, p *plan, l *lease) (*rewrite.Series, error) {
	ctx, span := s.Metrics.StartStep(ctx, "rewrite")
	defer span.End()

	if err := l.dropWorktree(ctx); err != nil {
		return nil, err
	}

	rw := &rewrite.Rewriter{
		Work:    s.Source,
		Branch:  WorkBranch,
		SelfExe: s.SelfExe,
		Mapping: pathmap.MappingPath(s.Config.MirrorDir),
	}
	if err := rw.Project(ctx); err != nil {
		if errors.Is(err, rewrite.ErrEmptyProjection) {
			return nil, ErrNothingToSync
		}
		return nil, err
	}

	sum := rewrite.Summary{
		Primary:   rewrite.Movement{Branch: p.primary.branch, Old: p.primary.baseline, New: p.primary.tip},
		Secondary: rewrite.Movement{Branch: p.secondary.branch, Old: p.secondary.baseline, New: p.secondary.tip},
	}
	series, err := rw.Export(ctx, l.seriesDir(), sum)
	if err != nil {
		if errors.Is(err, rewrite.ErrEmptyProjection) {
			return nil, ErrNothingToSync
		}
		return nil, err
	}
	s.say("%s projected %d commits into %s", ui.RenderInfoIcon(), len(series.Patches), series.Dir)
	return series, nil
}

// applySeries lands the series on the mirror: the summary as an empty
// commit, then every patch through am with three-way fallback. A
// conflicted patch pauses the run until the operator resolves it or
// gives up.
func (s *Syncer) applySeries(ctx context.Context, series *rewrite.Series) error {
	if err := s.Mirror.EmptyCommit(ctx, series.Summary.Message()); err != nil {
		return fmt.Errorf("recording sync summary: %w", err)
	}
	for _, patch := range series.Patches {
		if err := s.applyPatch(ctx, patch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) applyPatch(ctx context.Context, patch string) error {
	err := s.Mirror.Am(ctx, patch)
	if err == nil {
		return nil
	}
	for {
		inProgress, progressErr := s.Mirror.AmInProgress(ctx)
		if progressErr != nil {
			return progressErr
		}
		if !inProgress {
			return fmt.Errorf("applying %s: %w", filepath.Base(patch), err)
		}

		res, decideErr := s.Decider.ResumePatch(patch, s.Config.MirrorDir, err)
		if decideErr != nil {
			_ = s.Mirror.AmAbort(ctx)
			return decideErr
		}
		if res != decide.ResolveContinue {
			_ = s.Mirror.AmAbort(ctx)
			return fmt.Errorf("patch %s: %w", filepath.Base(patch), decide.ErrDeclined)
		}
		err = s.Mirror.AmContinue(ctx)
		if err == nil {
			return nil
		}
	}
}

// verifyParity proves the applied mirror equals an independent
// projection of the primary tip. Divergence is fatal unless configured
// down to a warning.
func (s *Syncer) verifyParity(ctx context.Context, p *plan, l *lease, rep *Report) error {
	ctx, span := s.Metrics.StartStep(ctx, "verify")
	defer span.End()

	v := &verify.Verifier{Source: s.Source, Mirror: s.Mirror, Mapper: s.Mapper}
	vrep, err := v.Verify(ctx, p.primary.tip, "HEAD")
	if err != nil {
		return err
	}
	rep.Consistency = vrep

	if vrep.Clean() {
		s.say("%s consistency verified: %d files match", ui.RenderPassIcon(), vrep.Checked)
		return nil
	}
	if s.Config.IgnoreConsistency {
		rep.Downgraded = true
		s.say("%s mirror diverges from the %s projection (%d missing, %d extra, %d changed); continuing as configured",
			ui.RenderWarnIcon(), ui.RenderBranch(p.primary.branch),
			len(vrep.Missing), len(vrep.Extra), len(vrep.Changed))
		return nil
	}
	s.sayRestoreHint(l)
	return &verify.DivergenceError{Report: vrep}
}

func (s *Syncer) say(format string, args ...any) {
	if s.Out == nil {
		return
	}
	fmt.Fprintf(s.Out, format+"\n", args...)
}

func (s *Syncer) sayPlan(p *plan) {
	for _, ln := range []*line{&p.primary, &p.secondary} {
		if len(ln.candidates) == 0 {
			s.say("%s %s is up to date with %s", ui.RenderInfoIcon(), ui.RenderBranch(ln.branch), ui.RenderHash(ln.baseline))
			continue
		}
		s.say("%s %s: %d new commits since %s", ui.RenderInfoIcon(), ui.RenderBranch(ln.branch), len(ln.candidates), ui.RenderHash(ln.baseline))
	}
}

func (s *Syncer) sayResult(r replay.Result) {
	subject := ui.TruncateSimple(r.Commit.Subject, ui.DefaultSubjectWidth)
	switch r.Outcome {
	case replay.Skipped:
		note := ""
		if len(r.Matches) > 0 {
			note = " " + ui.RenderMuted("(matches "+ui.ShortHash(r.Matches[0].Hash)+")")
		}
		s.say("%s %s %s%s", ui.RenderSkipIcon(), ui.RenderHash(r.Commit.Hash), subject, note)
	case replay.AutoResolved:
		s.say("%s %s %s %s", ui.RenderPassIcon(), ui.RenderHash(r.Commit.Hash), subject,
			ui.RenderMuted("(auto-resolved "+strings.Join(r.Conflict, ", ")+")"))
	case replay.ManualResolved:
		s.say("%s %s %s %s", ui.RenderPassIcon(), ui.RenderHash(r.Commit.Hash), subject,
			ui.RenderMuted("(resolved by hand)"))
	default:
		s.say("%s %s %s", ui.RenderPassIcon(), ui.RenderHash(r.Commit.Hash), subject)
	}
}

// sayRestoreHint names the pre-sync mirror tip after a failure that may
// have left the mirror partially updated. The tag itself is released
// with the lease, so the hash is the durable pointer.
func (s *Syncer) sayRestoreHint(l *lease) {
	s.say("%s the mirror changed during this run; its pre-sync tip was %s", ui.RenderWarnIcon(), ui.RenderHash(l.preSyncTip))
}
