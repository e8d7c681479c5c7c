package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const syncScopeName = "github.com/subsync/subsync/syncer"

// RunMetrics instruments one sync run: a root span, child spans per
// pipeline stage, and counters for the decisions the pipeline made.
// With telemetry disabled every instrument is a no-op.
type RunMetrics struct {
	tracer    trace.Tracer
	runs      metric.Int64Counter
	applied   metric.Int64Counter
	skipped   metric.Int64Counter
	conflicts metric.Int64Counter
	patches   metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewRunMetrics builds the sync-run instruments.
func NewRunMetrics() *RunMetrics {
	m := Meter(syncScopeName)
	runs, _ := m.Int64Counter("subsync.runs",
		metric.WithDescription("Sync runs started"),
	)
	applied, _ := m.Int64Counter("subsync.commits.applied",
		metric.WithDescription("Candidate commits replayed onto the working line"),
	)
	skipped, _ := m.Int64Counter("subsync.commits.skipped",
		metric.WithDescription("Candidate commits recognized as already mirrored"),
	)
	conflicts, _ := m.Int64Counter("subsync.conflicts",
		metric.WithDescription("Replay conflicts by resolution kind"),
	)
	patches, _ := m.Int64Counter("subsync.patches.applied",
		metric.WithDescription("Patches applied to the mirror"),
	)
	duration, _ := m.Float64Histogram("subsync.run.duration",
		metric.WithDescription("Sync run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &RunMetrics{
		tracer:    Tracer(syncScopeName),
		runs:      runs,
		applied:   applied,
		skipped:   skipped,
		conflicts: conflicts,
		patches:   patches,
		duration:  duration,
	}
}

// StartRun opens the root span for one invocation.
func (rm *RunMetrics) StartRun(ctx context.Context, sourceDir, mirrorDir string) (context.Context, trace.Span, time.Time) {
	ctx, span := rm.tracer.Start(ctx, "subsync.run",
		trace.WithAttributes(
			attribute.String("subsync.source", sourceDir),
			attribute.String("subsync.mirror", mirrorDir),
		),
	)
	rm.runs.Add(ctx, 1)
	return ctx, span, time.Now()
}

// EndRun closes the root span, recording duration and outcome.
func (rm *RunMetrics) EndRun(ctx context.Context, span trace.Span, start time.Time, outcome string, err error) {
	rm.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("subsync.outcome", outcome)))
	span.SetAttributes(attribute.String("subsync.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartStep opens a child span for one pipeline stage.
func (rm *RunMetrics) StartStep(ctx context.Context, name string) (context.Context, trace.Span) {
	return rm.tracer.Start(ctx, "subsync."+name)
}

// RecordReplay counts one branch's replay outcomes.
func (rm *RunMetrics) RecordReplay(ctx context.Context, branch string, applied, skipped, autoResolved, manualResolved int) {
	branchAttr := metric.WithAttributes(attribute.String("subsync.branch", branch))
	rm.applied.Add(ctx, int64(applied+autoResolved+manualResolved), branchAttr)
	rm.skipped.Add(ctx, int64(skipped), branchAttr)

	if autoResolved > 0 {
		rm.conflicts.Add(ctx, int64(autoResolved), metric.WithAttributes(
			attribute.String("subsync.branch", branch),
			attribute.String("subsync.resolution", "auto"),
		))
	}
	if manualResolved > 0 {
		rm.conflicts.Add(ctx, int64(manualResolved), metric.WithAttributes(
			attribute.String("subsync.branch", branch),
			attribute.String("subsync.resolution", "manual"),
		))
	}
}

// RecordPatches counts patches applied to the mirror.
func (rm *RunMetrics) RecordPatches(ctx context.Context, n int) {
	rm.patches.Add(ctx, int64(n))
}
