package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// finalFlushTimeout bounds the flush of a scope interrupted by cancellation.
const finalFlushTimeout = 30 * time.Second

// Definition binds one job's source, enrichment and target.
type Definition struct {
	Name       string
	Enumerator Enumerator
	Fetcher    Fetcher
	Enricher   Enricher
	Sink       Sink
	// Collection picks the target collection for a scope.
	Collection func(Scope) string
	Merge      bool
}

// Orchestrator drives enumerate, fetch, enrich and write for every scope.
// Workers <= 1 runs scopes sequentially.
type Orchestrator struct {
	Workers       int
	BatchSize     int
	ProgressEvery int
	Policy        retry.Policy
	Clock         clock.Clock
	Metrics       *metrics.PipelineMetrics
	Log           *zap.Logger
	Tracer        trace.Tracer
}

// Report is the outcome of Orchestrator.Run.
type Report struct {
	Job   string
	Stats *RunStatistics

	mu       sync.Mutex
	written  map[string]map[string]struct{}
	failures []Failure
}

// Failure is one document that did not reach the store, kept for replay.
type Failure struct {
	Collection string
	DocumentID string
	ScopeID    string
	ErrorClass string
}

// Written returns every document id committed or attempted in collection.
// Failed ids are included so a sweep never deletes a record the source still reports.
func (r *Report) Written(collection string) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.written[collection])
}

// Complete is true when every scope finished without error.
func (r *Report) Complete() bool {
	return r.Stats.ScopesFailed() == 0 && r.Stats.Snapshot().ScopesTotal == r.Stats.ScopesSucceeded()
}

func (r *Report) ExitCode() int { return r.Stats.ExitCode() }

// Failures lists rejected records and uncommitted writes in arrival order.
func (r *Report) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.failures)
}

func (r *Report) fail(f ...Failure) {
	r.mu.Lock()
	r.failures = append(r.failures, f...)
	r.mu.Unlock()
}

func (r *Report) record(collection string, ids ...map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.written[collection]
	if set == nil {
		set = map[string]struct{}{}
		r.written[collection] = set
	}
	for _, m := range ids {
		maps.Copy(set, m)
	}
}

// Run processes every scope. Only a ConfigurationError is returned as an
// error; everything else is contained in the report.
func (o *Orchestrator) Run(ctx context.Context, def Definition) (*Report, error) {
	log := nopIfNil(o.Log).With(zap.String("job", def.Name))
	tracer := o.Tracer
	if tracer == nil {
		tracer = otel.Tracer("cloudcost/pipeline")
	}
	report := &Report{Job: def.Name, Stats: NewRunStatistics(), written: map[string]map[string]struct{}{}}

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("job", def.Name)))
	defer span.End()

	scopes, err := def.Enumerator.Enumerate(ctx)
	if err != nil {
		if IsConfigurationError(err) {
			span.SetStatus(codes.Error, "configuration")
			return report, err
		}
		log.Error("enumerate.failed", zap.String("error_class", ErrorClass(err)), zap.Error(err))
		o.Metrics.IncJobError(def.Name, ErrorClass(err))
		scopes = nil
	}
	report.Stats.SetScopesTotal(len(scopes))
	log.Info("scopes.discovered", zap.Int("scopes", len(scopes)), zap.Int("workers", max(o.Workers, 1)))
	if len(scopes) == 0 {
		log.Warn("no scopes to process")
		return report, nil
	}

	prog := newProgress(len(scopes), o.ProgressEvery, o.Clock, log)
	if o.Workers <= 1 {
		for _, scope := range scopes {
			if ctx.Err() != nil {
				break
			}
			o.runScope(ctx, def, scope, report, tracer, log)
			prog.tick()
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.Workers)
		for _, scope := range scopes {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				o.runScope(ctx, def, scope, report, tracer, log)
				prog.tick()
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		log.Warn("run interrupted", zap.Error(err))
	}
	snap := report.Stats.Snapshot()
	span.SetAttributes(
		attribute.Int64("scopes_succeeded", snap.ScopesSucceeded),
		attribute.Int64("records_committed", snap.RecordsCommitted),
		attribute.Int64("records_failed", snap.RecordsFailed),
	)
	if !report.Stats.Success() {
		span.SetStatus(codes.Error, "run failed")
	}
	return report, nil
}

func (o *Orchestrator) runScope(ctx context.Context, def Definition, scope Scope, report *Report, tracer trace.Tracer, base *zap.Logger) {
	collection := ""
	if def.Collection != nil {
		collection = def.Collection(scope)
	}
	log := base.With(zap.String("scope_id", scope.ID), zap.String("scope_kind", string(scope.Kind)))
	ctx, span := tracer.Start(ctx, "pipeline.scope", trace.WithAttributes(
		attribute.String("scope_id", scope.ID),
		attribute.String("collection", collection),
	))
	defer span.End()

	stats := report.Stats
	start := time.Now()
	log.Debug("scope.start", zap.String("collection", collection))

	writer := NewBatchWriter(def.Sink, WriterOptions{
		Job:        def.Name,
		Collection: collection,
		Merge:      def.Merge,
		BatchSize:  o.BatchSize,
		ScopeID:    scope.ID,
		Policy:     o.Policy,
		Stats:      stats,
		Metrics:    o.Metrics,
		Log:        log,
	})

	var (
		fetched, enriched, misses int
		scopeErr                  error
	)
	for rec, err := range def.Fetcher.Fetch(ctx, scope) {
		if err != nil {
			scopeErr = err
			break
		}
		fetched++
		if rec.ScopeID == "" {
			rec.ScopeID = scope.ID
		}
		out, outcome, err := def.Enricher.Enrich(rec)
		if err != nil {
			log.Error("record.rejected",
				zap.String("natural_key", rec.NaturalKey),
				zap.String("error_class", ErrorClass(err)),
				zap.Error(err),
			)
			id := rejectedID(scope, rec)
			stats.AddFailed(id)
			report.fail(Failure{
				Collection: collection,
				DocumentID: id,
				ScopeID:    scope.ID,
				ErrorClass: ErrorClass(err),
			})
			scopeErr = errors.Join(scopeErr, err)
			continue
		}
		switch outcome {
		case JoinMatched:
			enriched++
		case JoinMiss:
			misses++
		}
		if err := writer.Add(ctx, out); err != nil {
			scopeErr = errors.Join(scopeErr, err)
		}
	}

	flushCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
		defer cancel()
		scopeErr = errors.Join(scopeErr, ctx.Err())
	}
	if _, err := writer.Flush(flushCtx); err != nil {
		scopeErr = errors.Join(scopeErr, err)
	}

	stats.AddFetched(int64(fetched))
	stats.AddEnriched(int64(enriched))
	stats.AddJoinMiss(int64(misses))
	o.Metrics.AddRecords(def.Name, metrics.RecordStageFetched, fetched)
	o.Metrics.AddRecords(def.Name, metrics.RecordStageEnriched, enriched)
	o.Metrics.AddRecords(def.Name, metrics.RecordStageJoinMiss, misses)
	report.record(collection, writer.Committed(), writer.Failed())
	for _, id := range sortedKeys(writer.Failed()) {
		report.fail(Failure{Collection: collection, DocumentID: id, ScopeID: scope.ID, ErrorClass: ErrorClassPartialWrite})
	}

	fields := []zap.Field{
		zap.Int("records_fetched", fetched),
		zap.Int("records_enriched", enriched),
		zap.Int("join_misses", misses),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if scopeErr != nil {
		stats.ScopeFailed(scope.ID)
		o.Metrics.IncScope(def.Name, metrics.ScopeOutcomeFailed)
		o.Metrics.IncJobError(def.Name, ErrorClass(scopeErr))
		span.RecordError(scopeErr)
		span.SetStatus(codes.Error, ErrorClass(scopeErr))
		log.Error("scope.failed", append(fields,
			zap.String("error_class", ErrorClass(scopeErr)),
			zap.Error(scopeErr),
		)...)
		return
	}
	stats.ScopeSucceeded()
	o.Metrics.IncScope(def.Name, metrics.ScopeOutcomeSucceeded)
	log.Info("scope.finish", fields...)
}

// identityFields are the payload fields that name a record without a natural key.
var identityFields = []string{"billing_account_id", "date", "invoice_month", "project_id", "service", "sku", "report_name"}

// rejectedID names a record that never got a document id, for the replay set.
func rejectedID(scope Scope, rec RawRecord) string {
	if rec.NaturalKey != "" {
		return scope.ID + "#" + rec.NaturalKey
	}
	parts := make([]string, 0, len(identityFields))
	for _, field := range identityFields {
		if v, ok := rec.Payload[field]; ok && v != nil && fmt.Sprint(v) != "" {
			parts = append(parts, field+"="+fmt.Sprint(v))
		}
	}
	if len(parts) == 0 {
		for _, field := range slices.Sorted(maps.Keys(rec.Payload)) {
			if v, ok := rec.Payload[field].(string); ok && v != "" {
				parts = append(parts, field+"="+v)
			}
		}
	}
	return scope.ID + "#" + strings.Join(parts, ",")
}
