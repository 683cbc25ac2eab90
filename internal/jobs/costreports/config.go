package costreports

import (
	"slices"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

type Config struct {
	ProjectID          string
	Environment        string
	SourceDataset      string
	SourceTable        string
	Database           string
	CollectionPrefix   string
	MetadataCollection string
	DaysBack           int
	TopDriversCount    int
	TopDriversDays     int
	Reports            []string
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		ProjectID:          cfg.ProjectID,
		Environment:        cfg.Environment,
		SourceDataset:      config.Getenv("SOURCE_DATASET_ID", "billing_data"),
		SourceTable:        config.Getenv("SOURCE_TABLE_ID", "daily_costs"),
		Database:           config.Getenv("FIRESTORE_DATABASE", "(default)"),
		CollectionPrefix:   config.Getenv("FIRESTORE_COLLECTION_PREFIX", "cost_reports"),
		MetadataCollection: config.Getenv("METADATA_COLLECTION", "cost_reports_metadata"),
		DaysBack:           config.GetenvInt("DAYS_BACK", 30),
		TopDriversCount:    config.GetenvInt("TOP_COST_DRIVERS_COUNT", 20),
		TopDriversDays:     config.GetenvInt("TOP_COST_DRIVERS_DAYS", 7),
		Reports:            config.GetenvList("REPORTS", Names()),
	}
	if c.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	if c.DaysBack < 1 || c.TopDriversDays < 1 {
		return Config{}, pipeline.NewConfigurationError("DAYS_BACK", "report windows must be at least one day")
	}
	if c.TopDriversCount < 1 {
		return Config{}, pipeline.NewConfigurationError("TOP_COST_DRIVERS_COUNT", "must be positive, got %d", c.TopDriversCount)
	}
	known := Names()
	for _, name := range c.Reports {
		if !slices.Contains(known, name) {
			return Config{}, pipeline.NewConfigurationError("REPORTS", "unknown report %q", name)
		}
	}
	return c, nil
}

// Source is the fully qualified table the reports aggregate.
func (c Config) Source() string {
	return c.ProjectID + "." + c.SourceDataset + "." + c.SourceTable
}

func (c Config) Collection(report string) string {
	return c.CollectionPrefix + "_" + report
}
