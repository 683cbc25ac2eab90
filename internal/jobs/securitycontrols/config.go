package securitycontrols

import (
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
)

var defaultAssetTypes = []string{
	assetOrgPolicy,
	assetAccessLevel,
	assetServicePerimeter,
	assetFirewall,
	assetSecurityPolicy,
	assetIAMRole,
}

type Config struct {
	ScopeType        string
	ScopeID          string
	Database         string
	Collection       string
	AssetTypes       []string
	CustomModules    bool
	BuiltinDetectors bool
}

func LoadConfig(config.Config) (Config, error) {
	c := Config{
		ScopeType:        strings.ToLower(config.Getenv("INGESTION_SCOPE_TYPE", "organization")),
		ScopeID:          config.Getenv("INGESTION_SCOPE_ID", ""),
		Database:         config.Getenv("FIRESTORE_DATABASE", "(default)"),
		Collection:       config.Getenv("FIRESTORE_COLLECTION_CONTROLS", "controls"),
		AssetTypes:       config.GetenvList("ASSET_TYPES", defaultAssetTypes),
		CustomModules:    config.GetenvBool("INCLUDE_SHA_CUSTOM_MODULES", true),
		BuiltinDetectors: config.GetenvBool("INCLUDE_SHA_DETECTORS", true),
	}
	c.ScopeType = strings.TrimSuffix(c.ScopeType, "s")
	if c.ScopeType != "organization" && c.ScopeType != "folder" {
		return Config{}, pipeline.NewConfigurationError("INGESTION_SCOPE_TYPE", "must be organization or folder, got %q", c.ScopeType)
	}
	if c.ScopeID == "" {
		return Config{}, pipeline.NewConfigurationError("INGESTION_SCOPE_ID", "is required")
	}
	if len(c.AssetTypes) == 0 && !c.CustomModules && !c.BuiltinDetectors {
		return Config{}, pipeline.NewConfigurationError("ASSET_TYPES", "every control source is disabled")
	}
	return c, nil
}

// Parent is the resource name the sources are read under, e.g. organizations/123.
func (c Config) Parent() string {
	return c.ScopeType + "s/" + c.ScopeID
}
