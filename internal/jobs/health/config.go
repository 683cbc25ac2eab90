package health

import (
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

var defaultRegions = []string{"asia-southeast1", "asia-southeast2", "asia-south1", "asia-south2", "global"}

type Config struct {
	ProjectID         string
	OrganizationID    string
	Database          string
	EventsCollection  string
	RegionsCollection string
	Regions           []string
	Categories        []string
	FilterByProduct   bool
	Products          []string
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		ProjectID:         cfg.ProjectID,
		OrganizationID:    strings.TrimPrefix(config.Getenv("ORGANIZATION_ID", cfg.OrganizationID), "organizations/"),
		Database:          config.Getenv("FIRESTORE_DATABASE", "(default)"),
		EventsCollection:  config.Getenv("EVENTS_COLLECTION", "health_events"),
		RegionsCollection: config.Getenv("REGIONS_COLLECTION", "region_status"),
		Regions:           config.GetenvList("REGIONS", defaultRegions),
		Categories:        config.GetenvList("EVENT_CATEGORIES", nil),
		FilterByProduct:   config.GetenvBool("FILTER_BY_PRODUCT", false),
		Products:          config.GetenvList("PRODUCTS", nil),
	}
	if c.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	if c.OrganizationID == "" {
		return Config{}, pipeline.NewConfigurationError("ORGANIZATION_ID", "is required")
	}
	if len(c.Regions) == 0 {
		return Config{}, pipeline.NewConfigurationError("REGIONS", "at least one region is required")
	}
	return c, nil
}

// Parent is the organization events parent.
func (c Config) Parent() string {
	return "organizations/" + c.OrganizationID + "/locations/global"
}

// Filter selects active events, narrowed to the configured categories.
func (c Config) Filter() string {
	filter := "state=ACTIVE"
	if len(c.Categories) == 0 {
		return filter
	}
	clauses := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		clauses = append(clauses, "category="+cat)
	}
	return filter + " AND (" + strings.Join(clauses, " OR ") + ")"
}
