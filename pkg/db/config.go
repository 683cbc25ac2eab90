package db

import (
	"strings"
	"time"

	"github.com/smallbiznis/cloudcost/internal/config"
)

type Config struct {
	Driver          string
	DSN             string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
}

// FromConfig reads the ledger connection settings. An empty DSN disables the ledger.
func FromConfig(cfg config.Config) Config {
	return Config{
		Driver:          strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)),
		DSN:             strings.TrimSpace(cfg.Ledger.DSN),
		MaxIdleConn:     config.GetenvInt("LEDGER_MAX_IDLE_CONN", 2),
		MaxOpenConn:     config.GetenvInt("LEDGER_MAX_OPEN_CONN", 5),
		ConnMaxLifetime: config.GetenvDuration("LEDGER_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func (c Config) Enabled() bool { return c.DSN != "" }
