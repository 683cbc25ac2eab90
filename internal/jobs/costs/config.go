package costs

import (
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

const (
	LevelDaily   = "daily"
	LevelProject = "project"
	LevelService = "service"
)

type Config struct {
	ProjectID      string
	Environment    string
	Dataset        string
	TablePrefix    string
	AccountIDs     []string
	Database       string
	Collection     string
	DaysBack       int
	Level          string
	IncludeDetails bool
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		ProjectID:      cfg.ProjectID,
		Environment:    cfg.Environment,
		Dataset:        config.Getenv("BILLING_DATASET", "billing_export"),
		TablePrefix:    config.Getenv("BILLING_TABLE_PREFIX", "gcp_billing_export_v1"),
		AccountIDs:     config.GetenvList("BILLING_ACCOUNT_IDS", nil),
		Database:       config.Getenv("FIRESTORE_DATABASE", "cost-db"),
		Collection:     config.Getenv("FIRESTORE_COLLECTION", "daily_costs"),
		DaysBack:       config.GetenvInt("DAYS_BACK", 7),
		Level:          strings.ToLower(config.Getenv("AGGREGATION_LEVEL", LevelDaily)),
		IncludeDetails: config.GetenvBool("INCLUDE_DETAILS", true),
	}
	if c.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	if c.DaysBack < 1 {
		return Config{}, pipeline.NewConfigurationError("DAYS_BACK", "must be at least 1, got %d", c.DaysBack)
	}
	switch c.Level {
	case LevelDaily, LevelProject, LevelService:
	default:
		return Config{}, pipeline.NewConfigurationError("AGGREGATION_LEVEL", "unknown level %q", c.Level)
	}
	return c, nil
}

// Table is the export table of one billing account.
func (c Config) Table(account string) string {
	return c.ProjectID + "." + c.Dataset + "." + c.TablePrefix + "_" + strings.ReplaceAll(account, "-", "_")
}

// nested reports whether SKU rows are folded into their service document.
func (c Config) nested() bool {
	return c.Level == LevelDaily && c.IncludeDetails
}
