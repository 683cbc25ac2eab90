package notify

import (
	"time"

	"github.com/smallbiznis/cloudcost/internal/config"
)

const (
	ServiceName = "notification-api"
	Version     = "1.0.0"
)

type Config struct {
	Database           string
	ChannelsCollection string
	CodeExpiry         time.Duration
	MaxConfirmAttempts int
	WebhookTimeout     time.Duration
}

func LoadConfig(cfg config.Config) Config {
	return Config{
		Database:           cfg.FirestoreDatabase,
		ChannelsCollection: config.Getenv("CHANNELS_COLLECTION", "teams-notification-channels"),
		CodeExpiry:         time.Duration(config.GetenvInt("VERIFICATION_CODE_EXPIRY_MINUTES", 15)) * time.Minute,
		MaxConfirmAttempts: config.GetenvInt("VERIFICATION_MAX_ATTEMPTS", 5),
		WebhookTimeout:     config.GetenvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
	}
}
