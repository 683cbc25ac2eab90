package authorization

import (
	"errors"
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
)

var ErrMissingAudience = errors.New("GCP_OAUTH_CLIENT_ID is required when AUTH_ENABLED is set")

type Config struct {
	Enabled    bool
	Audience   string
	PolicyFile string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Enabled:    config.GetenvBool("AUTH_ENABLED", false),
		Audience:   strings.TrimSpace(config.Getenv("GCP_OAUTH_CLIENT_ID", "")),
		PolicyFile: strings.TrimSpace(config.Getenv("AUTH_POLICY_FILE", "")),
	}
	if cfg.Enabled && cfg.Audience == "" {
		return cfg, ErrMissingAudience
	}
	return cfg, nil
}
