package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/observability"
	obsmiddleware "github.com/smallbiznis/cloudcost/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cloudcost/internal/observability/metrics"
	obstracing "github.com/smallbiznis/cloudcost/internal/observability/tracing"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module hosts one HTTP service. The service supplies its handlers through
// AsRoutes.
var Module = fx.Options(
	config.Module,
	observability.Module,
	observability.HTTPModule,
	clock.Module,
	fx.Provide(
		NewPolicy,
		NewStores,
		NewRedis,
		NewEngine,
	),
	fx.Invoke(run),
)

// Routes mounts a service's handlers on the shared engine.
type Routes interface {
	Register(r *gin.Engine)
}

// AsRoutes annotates a constructor so its result joins the route group.
func AsRoutes(f any) any {
	return fx.Annotate(f, fx.As(new(Routes)), fx.ResultTags(`group:"routes"`))
}

type EngineParams struct {
	fx.In

	Log         *zap.Logger
	ObsConfig   observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics
	Routes      []Routes `group:"routes"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(p.Log, obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsConfig.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(p.HTTPMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	for _, routes := range p.Routes {
		routes.Register(r)
	}
	return r
}

func NewPolicy(cfg config.Config) retry.Policy {
	return retry.FromConfig(cfg.Pipeline)
}

func NewStores(lc fx.Lifecycle, cfg config.Config) docstore.Opener {
	opener := docstore.NewFirestoreOpener(cfg.ProjectID)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return opener.Close() }})
	return opener
}

// NewRedis returns nil when REDIS_ADDR is unset; callers fall back to
// in-process state.
func NewRedis(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
