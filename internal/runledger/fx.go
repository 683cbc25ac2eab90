package runledger

import (
	"github.com/smallbiznis/cloudcost/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("runledger",
	db.Module,
	fx.Provide(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) (*Ledger, error) {
		if conn == nil {
			return nil, nil
		}
		if err := Migrate(conn, cfg.Driver); err != nil {
			return nil, err
		}
		return New(conn, log), nil
	}),
)
