package invoices

import (
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

type Config struct {
	ProjectID        string
	AccountIDs       []string
	Database         string
	Collection       string
	MonthsBack       int
	IncludeLineItems bool
	Dataset          string
	TablePrefix      string
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		ProjectID:        cfg.ProjectID,
		AccountIDs:       config.GetenvList("BILLING_ACCOUNT_IDS", nil),
		Database:         config.Getenv("FIRESTORE_DATABASE", "cost-db"),
		Collection:       config.Getenv("FIRESTORE_COLLECTION", "invoices"),
		MonthsBack:       config.GetenvInt("MONTHS_BACK", 12),
		IncludeLineItems: config.GetenvBool("INCLUDE_LINE_ITEMS", true),
		Dataset:          config.Getenv("BILLING_DATASET", "billing_export"),
		TablePrefix:      config.Getenv("BILLING_TABLE_PREFIX", "gcp_billing_export_v1"),
	}
	if c.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	if c.MonthsBack < 1 {
		return Config{}, pipeline.NewConfigurationError("MONTHS_BACK", "must be at least 1, got %d", c.MonthsBack)
	}
	return c, nil
}

// Table is the export table holding the line items of one billing account.
func (c Config) Table(account string) string {
	return c.ProjectID + "." + c.Dataset + "." + c.TablePrefix + "_" + strings.ReplaceAll(account, "-", "_")
}
