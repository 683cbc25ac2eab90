package anomalyhandler

import (
	"context"

	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("anomaly.handler",
	fx.Provide(
		LoadConfig,
		NewCache,
		server.AsRoutes(New),
	),
)

// NewCache loads the enrichment table at startup. A failed load leaves the
// cache empty; POST /reload-enrichment retries it.
func NewCache(lc fx.Lifecycle, cfg Config, stores docstore.Opener, log *zap.Logger) (*pipeline.EnrichmentCache, error) {
	store, err := stores.Open(context.Background(), cfg.Enrichment.Database)
	if err != nil {
		return nil, err
	}
	cache := pipeline.NewEnrichmentCache(store, pipeline.EnrichmentCacheConfig{
		Collection:     cfg.Enrichment.Collection,
		ProjectIDField: cfg.Enrichment.ProjectIDField,
		Fields:         cfg.Enrichment.Fields,
	}, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := cache.Load(ctx); err != nil {
				log.Warn("enrichment unavailable at startup", zap.Error(err))
			}
			return nil
		},
	})
	return cache, nil
}

func New(cfg Config, stores docstore.Opener, cache *pipeline.EnrichmentCache, clk clock.Clock, log *zap.Logger) (*Handler, error) {
	store, err := stores.Open(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}
	return NewHandler(cfg, store, cache, clk, log), nil
}
