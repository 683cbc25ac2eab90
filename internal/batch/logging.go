package batch

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/cloudcost/internal/observability/context"
	obslogger "github.com/smallbiznis/cloudcost/internal/observability/logger"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

// maxLoggedIDs caps the failed id summary on job.finish.
const maxLoggedIDs = 100

type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
}

func (r *Runner) withLogContext(ctx context.Context, run *jobRun) context.Context {
	ctx = obscontext.WithActor(ctx, "system", "batch")
	return obscontext.WithRun(ctx, run.job, run.runID)
}

func (r *Runner) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, r.log)
}

func (r *Runner) logJobStart(ctx context.Context, run *jobRun) {
	r.logger(ctx).Info("job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", r.cfg.Pipeline.BatchSize),
		zap.Int("workers", r.cfg.Pipeline.Workers),
	)
}

func (r *Runner) logJobFinish(ctx context.Context, run *jobRun, exitCode int, snap pipeline.StatsSnapshot, err error) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", r.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("exit_code", exitCode),
		zap.Int64("scopes_total", snap.ScopesTotal),
		zap.Int64("scopes_succeeded", snap.ScopesSucceeded),
		zap.Int64("scopes_failed", snap.ScopesFailed),
		zap.Int64("records_fetched", snap.RecordsFetched),
		zap.Int64("records_filtered", snap.RecordsFiltered),
		zap.Int64("records_enriched", snap.RecordsEnriched),
		zap.Int64("records_committed", snap.RecordsCommitted),
		zap.Int64("records_failed", snap.RecordsFailed),
		zap.Int64("stale_records_deleted", snap.StaleRecordsDeleted),
		zap.Int64("join_misses", snap.JoinMisses),
		zap.Int64("retries", snap.Retries),
	}
	log := r.logger(ctx)
	if exitCode == ExitSuccess {
		log.Info("job.finish", fields...)
		return
	}
	if err != nil {
		fields = append(fields, zap.String("error_class", pipeline.ErrorClass(err)), zap.Error(err))
	}
	fields = append(fields,
		zap.Strings("failed_scopes", truncate(snap.FailedScopes)),
		zap.Strings("failed_ids", truncate(snap.FailedIDs)),
	)
	log.Warn("job.finish", fields...)
}

func truncate(ids []string) []string {
	if len(ids) <= maxLoggedIDs {
		return ids
	}
	return ids[:maxLoggedIDs]
}
