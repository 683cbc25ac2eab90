package anomalyhandler

import (
	"github.com/smallbiznis/cloudcost/internal/config"
)

const (
	ServiceName           = "cost-anomaly-handler"
	DefaultHandlerVersion = "1.0.0"
)

type Config struct {
	Database       string
	Collection     string
	HandlerVersion string
	Enrichment     config.EnrichmentConfig
}

func LoadConfig(cfg config.Config) Config {
	return Config{
		Database:       config.Getenv("FIRESTORE_DATABASE", "cost-db"),
		Collection:     config.Getenv("FIRESTORE_COLLECTION", "cost_anomalies"),
		HandlerVersion: config.Getenv("HANDLER_VERSION", DefaultHandlerVersion),
		Enrichment:     cfg.Enrichment,
	}
}
