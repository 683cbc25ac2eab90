package recommendations

import (
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

const (
	ScopeProject      = "project"
	ScopeFolder       = "folder"
	ScopeOrganization = "organization"
)

type Config struct {
	ProjectID           string
	Database            string
	Collection          string
	ScopeType           string
	ScopeID             string
	UseInventory        bool
	InventoryCollection string
	StateFilter         string
	Catalog             Catalog
}

func LoadConfig(cfg config.Config) (Config, error) {
	c := Config{
		ProjectID:           cfg.ProjectID,
		Database:            config.Getenv("FIRESTORE_DATABASE", "(default)"),
		Collection:          config.Getenv("FIRESTORE_COLLECTION", "cost_recommendations"),
		ScopeType:           strings.ToLower(config.Getenv("SCOPE_TYPE", ScopeProject)),
		ScopeID:             config.Getenv("SCOPE_ID", cfg.ProjectID),
		UseInventory:        config.GetenvBool("USE_INVENTORY", false),
		InventoryCollection: config.Getenv("INVENTORY_COLLECTION", "projects"),
		StateFilter:         config.Getenv("RECOMMENDATION_STATE_FILTER", "ACTIVE"),
	}
	if c.ProjectID == "" {
		return Config{}, pipeline.NewConfigurationError("GCP_PROJECT_ID", "is required")
	}
	switch c.ScopeType {
	case ScopeProject, ScopeFolder, ScopeOrganization:
	default:
		return Config{}, pipeline.NewConfigurationError("SCOPE_TYPE", "must be project, folder or organization, got %q", c.ScopeType)
	}

	catalog, err := LoadCatalog(config.Getenv("CATALOG_FILE", ""))
	if err != nil {
		return Config{}, pipeline.NewConfigurationError("CATALOG_FILE", "%v", err)
	}
	if types := config.GetenvList("RECOMMENDER_TYPES", nil); len(types) > 0 {
		catalog.Types = types
	}
	if locations := config.GetenvList("RECOMMENDER_LOCATIONS", nil); len(locations) > 0 {
		catalog.Locations = locations
	}
	c.Catalog = catalog
	return c, nil
}

// Filter is the list filter sent to the recommender API.
func (c Config) Filter() string {
	if c.StateFilter == "" {
		return ""
	}
	return "stateInfo.state=" + c.StateFilter
}
