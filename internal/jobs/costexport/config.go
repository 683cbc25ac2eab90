package costexport

import (
	"time"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

type Config struct {
	ProjectID     string
	Dataset       string
	Table         string
	ExportDataset string
	ExportPrefix  string
	AccountIDs    []string
	// TargetDate is YYYY-MM-DD; empty means yesterday.
	TargetDate string
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		ProjectID:     cfg.ProjectID,
		Dataset:       config.Getenv("BQ_DATASET_ID", "billing_data"),
		Table:         config.Getenv("BQ_TABLE_ID", "daily_costs"),
		ExportDataset: config.Getenv("BILLING_EXPORT_DATASET", "billing_data"),
		ExportPrefix:  config.Getenv("BILLING_EXPORT_TABLE_PREFIX", "gcp_billing_export"),
		AccountIDs:    config.GetenvList("BILLING_ACCOUNT_IDS", nil),
		TargetDate:    config.Getenv("TARGET_DATE", ""),
	}
	if c.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	if c.TargetDate != "" {
		if _, err := time.Parse(time.DateOnly, c.TargetDate); err != nil {
			return Config{}, pipeline.NewConfigurationError("TARGET_DATE", "want YYYY-MM-DD, got %q", c.TargetDate)
		}
	}
	return c, nil
}

// Date resolves the collection day relative to now.
func (c Config) Date(now time.Time) string {
	if c.TargetDate != "" {
		return c.TargetDate
	}
	return now.AddDate(0, 0, -1).Format(time.DateOnly)
}

// ExportTables is the wildcard over every export table in the export dataset.
func (c Config) ExportTables() string {
	return c.ProjectID + "." + c.ExportDataset + "." + c.ExportPrefix + "_*"
}
