package db

import (
	"context"
	"errors"
	"time"

	obslogger "github.com/smallbiznis/cloudcost/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprom "gorm.io/plugin/prometheus"
)

var ErrDisabled = errors.New("ledger database is not configured")

// Module provides *gorm.DB for the run ledger. When LEDGER_DSN is empty the
// provided handle is nil and consumers must treat the ledger as disabled.
var Module = fx.Module("db",
	fx.Provide(FromConfig),
	fx.Provide(func(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*gorm.DB, error) {
		if !cfg.Enabled() {
			log.Info("run ledger disabled")
			return nil, nil
		}
		conn, err := Open(cfg, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		})
		return conn, nil
	}),
)

// Open connects, installs tracing and pool metrics, and tunes the pool.
func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(log, gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName("ledger"))); err != nil {
		return nil, err
	}
	if err := conn.Use(gormprom.New(gormprom.Config{
		DBName:          "ledger",
		RefreshInterval: 15,
	})); err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return conn, nil
}
