package anomalies

import (
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

type Config struct {
	Environment      string
	AccountIDs       []string
	Database         string
	Collection       string
	MetaCollection   string
	DaysBack         int
	MinImpactUSD     float64
	Types            []string
	EnrichmentFields []string
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		Environment:      cfg.Environment,
		AccountIDs:       config.GetenvList("BILLING_ACCOUNT_IDS", nil),
		Database:         config.Getenv("FIRESTORE_DATABASE", "cost-db"),
		Collection:       config.Getenv("FIRESTORE_COLLECTION", "cost_anomalies"),
		MetaCollection:   config.Getenv("METADATA_COLLECTION", "cost_anomalies_metadata"),
		DaysBack:         config.GetenvInt("DAYS_BACK", 30),
		MinImpactUSD:     config.GetenvFloat("MIN_IMPACT_AMOUNT", 100),
		Types:            config.GetenvList("ANOMALY_TYPES", nil),
		EnrichmentFields: cfg.Enrichment.Fields,
	}
	if cfg.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	if c.DaysBack < 1 {
		return Config{}, pipeline.NewConfigurationError("DAYS_BACK", "must be at least 1, got %d", c.DaysBack)
	}
	if c.MinImpactUSD < 0 {
		return Config{}, pipeline.NewConfigurationError("MIN_IMPACT_AMOUNT", "must not be negative, got %v", c.MinImpactUSD)
	}
	return c, nil
}
