package batch

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/cloudmetrics"
	"github.com/smallbiznis/cloudcost/internal/config"
	obsmetrics "github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/runledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// finalizeTimeout bounds ledger and metric push work after the job returns,
// including after cancellation.
const finalizeTimeout = 15 * time.Second

type Runner struct {
	cfg      config.Config
	genID    *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.PipelineMetrics
	counters *obsmetrics.Metrics
	ledger   *runledger.Ledger
	pusher   cloudmetrics.Pusher
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
}

type RunnerParams struct {
	fx.In

	Config   config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *obsmetrics.PipelineMetrics
	Counters *obsmetrics.Metrics `optional:"true"`
	Ledger   *runledger.Ledger   `optional:"true"`
	Pusher   cloudmetrics.Pusher `optional:"true"`
	Gatherer prometheus.Gatherer `optional:"true"`
}

func NewRunner(p RunnerParams) *Runner {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{
		cfg:      p.Config,
		genID:    p.GenID,
		clock:    clk,
		log:      log.Named("batch"),
		metrics:  p.Metrics,
		counters: p.Counters,
		ledger:   p.Ledger,
		pusher:   p.Pusher,
		gatherer: p.Gatherer,
		tracer:   otel.Tracer("cloudcost/batch"),
	}
}

// Run executes job once and returns the process exit code: 0 iff at least one
// scope succeeded and no record failed.
func (r *Runner) Run(ctx context.Context, job Job) int {
	id := r.genID.Generate()
	run := &jobRun{
		job:       job.Name(),
		runID:     id.String(),
		startedAt: r.clock.Now(),
	}
	ctx = r.withLogContext(ctx, run)
	ctx, span := r.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job", run.job),
		attribute.String("run_id", run.runID),
	))
	defer span.End()

	r.logJobStart(ctx, run)
	r.metrics.IncJobRun(run.job)
	runID := id.Int64()
	if err := r.ledger.Start(ctx, runID, run.job, r.cfg.Environment, run.startedAt); err != nil {
		r.logger(ctx).Warn("ledger.start_failed", zap.Error(err))
	}

	report, err := r.execute(ctx, job)

	stats := pipeline.NewRunStatistics()
	var failures []pipeline.Failure
	if report != nil {
		stats = report.Stats
		failures = report.Failures()
	}
	snap := stats.Snapshot()

	exitCode := stats.ExitCode()
	switch {
	case pipeline.IsConfigurationError(err):
		exitCode = ExitConfiguration
	case err != nil:
		exitCode = ExitFailure
	}

	finishedAt := r.clock.Now()
	r.metrics.ObserveJobDuration(run.job, finishedAt.Sub(run.startedAt))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.metrics.IncJobTimeout(run.job)
	}
	if err != nil {
		r.metrics.IncJobError(run.job, pipeline.ErrorClass(err))
		span.RecordError(err)
	}
	if exitCode == ExitSuccess {
		r.metrics.SetLastSuccess(run.job, finishedAt)
	} else {
		span.SetStatus(codes.Error, "run failed")
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	r.counters.RecordRun(finalCtx, run.job, snap.RecordsCommitted, snap.RecordsFailed, snap.JoinMisses)
	if err := r.ledger.Finish(finalCtx, runID, runledger.Outcome{
		ExitCode:   exitCode,
		Err:        err,
		Stats:      snap,
		Failures:   failures,
		FinishedAt: finishedAt,
	}); err != nil {
		r.logger(ctx).Warn("ledger.finish_failed", zap.Error(err))
	}
	r.push(finalCtx)

	r.logJobFinish(ctx, run, exitCode, snap, err)
	return exitCode
}

// execute converts a panic inside a job into a failed run.
func (r *Runner) execute(ctx context.Context, job Job) (report *pipeline.Report, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger(ctx).Error("job.panic", zap.Any("panic", rec), zap.Stack("stack"))
			err = errors.New("job panicked")
		}
	}()
	return job.Run(ctx)
}

func (r *Runner) push(ctx context.Context) {
	if r.pusher == nil || r.gatherer == nil {
		return
	}
	if err := r.pusher.Push(ctx, r.gatherer); err != nil {
		r.logger(ctx).Warn("metrics.push_failed", zap.Error(err))
	}
}
