package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cloudcost/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		LoadConfig,
		NewFromConfig,
		NewLocker,
	),
)

// LoadConfig reads the per-webhook budget: WEBHOOK_RATE_PER_SECOND tokens
// refilled per second up to WEBHOOK_RATE_BURST.
func LoadConfig() Config {
	return Config{
		Rate:   config.GetenvFloat("WEBHOOK_RATE_PER_SECOND", 1),
		Burst:  config.GetenvInt("WEBHOOK_RATE_BURST", 4),
		Prefix: config.Getenv("WEBHOOK_RATE_PREFIX", "notify:webhook:"),
	}
}

func NewFromConfig(client *redis.Client, cfg Config, log *zap.Logger) Limiter {
	return New(client, cfg, log)
}
