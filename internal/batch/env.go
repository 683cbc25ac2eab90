package batch

import (
	"context"
	"time"

	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	obsmetrics "github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Env is the shared toolbox handed to every job constructor.
type Env struct {
	fx.In

	Config       config.Config
	Orchestrator *pipeline.Orchestrator
	Policy       retry.Policy
	Stores       docstore.Opener
	Clock        clock.Clock
	Log          *zap.Logger
	Metrics      *obsmetrics.PipelineMetrics `optional:"true"`
}

// NewPolicy builds the retry policy shared by fetches and commits.
func NewPolicy(cfg config.Config) retry.Policy {
	return retry.FromConfig(cfg.Pipeline)
}

func NewOrchestrator(cfg config.Config, policy retry.Policy, clk clock.Clock, metrics *obsmetrics.PipelineMetrics, log *zap.Logger) *pipeline.Orchestrator {
	return &pipeline.Orchestrator{
		Workers:       cfg.Pipeline.Workers,
		BatchSize:     cfg.Pipeline.BatchSize,
		ProgressEvery: cfg.Pipeline.ProgressEvery,
		Policy:        policy,
		Clock:         clk,
		Metrics:       metrics,
		Log:           log.Named("pipeline"),
	}
}

// Enrichment opens the project metadata table and loads it once. A load
// failure is logged and the job continues with an empty cache, so every
// record with a project id counts as a join miss.
func (e Env) Enrichment(ctx context.Context, job string) *pipeline.EnrichmentCache {
	log := e.Log.With(zap.String("job", job))
	cfg := e.Config.Enrichment
	store, err := e.Stores.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("enrichment.open_failed", zap.String("database", cfg.Database), zap.Error(err))
		cache := pipeline.NewEnrichmentCache(nil, pipeline.EnrichmentCacheConfig{Fields: cfg.Fields}, log)
		cache.Set(pipeline.NewEnrichmentSnapshot(nil))
		return cache
	}
	cache := pipeline.NewEnrichmentCache(store, pipeline.EnrichmentCacheConfig{
		Collection:     cfg.Collection,
		ProjectIDField: cfg.ProjectIDField,
		Fields:         cfg.Fields,
	}, log)
	if _, err := cache.Load(ctx); err != nil {
		log.Warn("enrichment unavailable, continuing without it", zap.Error(err))
		cache.Set(pipeline.NewEnrichmentSnapshot(nil))
	}
	e.Metrics.SetCacheEntries(job, cache.Len())
	return cache
}

// Now is the run clock in UTC.
func (e Env) Now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock.Now()
}

// Logger names the job logger.
func (e Env) Logger(job string) *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log.Named(job).With(zap.String("component", job))
}
