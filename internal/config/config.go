package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxBatchSize is the per-commit operation ceiling of the document store.
const MaxBatchSize = 500

// ErrMissingProjectID is returned when GCP_PROJECT_ID is not set.
var ErrMissingProjectID = errors.New("GCP_PROJECT_ID is required")

// Config holds settings shared by every job and service.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Port        string

	ProjectID         string
	OrganizationID    string
	FirestoreDatabase string

	OTLPEndpoint string

	Enrichment EnrichmentConfig
	Pipeline   PipelineConfig
	Metrics    MetricsPushConfig
	Ledger     LedgerConfig
	Redis      RedisConfig
}

// EnrichmentConfig points at the project metadata side table.
type EnrichmentConfig struct {
	Database       string
	Collection     string
	ProjectIDField string
	Fields         []string
}

type PipelineConfig struct {
	BatchSize        int
	Workers          int
	ProgressEvery    int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxJitter   time.Duration
}

type MetricsPushConfig struct {
	Mode           string
	PushgatewayURL string
	RemoteWriteURL string
	AuthToken      string
}

type LedgerConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads .env.{ENVIRONMENT} and .env, then builds Config from the environment.
// Values already present in the process environment always win.
func Load() Config {
	environment := Getenv("ENVIRONMENT", "dev")
	_ = godotenv.Load(".env." + environment)
	_ = godotenv.Load()
	environment = Getenv("ENVIRONMENT", environment)

	batchSize := GetenvInt("BATCH_SIZE", MaxBatchSize)
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	cfg := Config{
		AppName:           Getenv("APP_NAME", "cloudcost"),
		AppVersion:        Getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		Port:              Getenv("PORT", "8080"),
		ProjectID:         strings.TrimSpace(Getenv("GCP_PROJECT_ID", "")),
		OrganizationID:    strings.TrimSpace(Getenv("ORGANIZATION_ID", "")),
		FirestoreDatabase: Getenv("FIRESTORE_DATABASE", "(default)"),
		OTLPEndpoint:      Getenv("OTLP_ENDPOINT", "localhost:4317"),
		Enrichment: EnrichmentConfig{
			Database:       Getenv("ENRICHMENT_DATABASE", "dashboard"),
			Collection:     Getenv("ENRICHMENT_COLLECTION", "projects"),
			ProjectIDField: Getenv("ENRICHMENT_PROJECT_ID_FIELD", "project_id"),
			Fields:         GetenvList("ENRICHMENT_FIELDS", []string{"appcode", "lob"}),
		},
		Pipeline: PipelineConfig{
			BatchSize:        batchSize,
			Workers:          GetenvInt("MAX_WORKERS", 10),
			ProgressEvery:    GetenvInt("PROGRESS_EVERY", 50),
			RetryMaxAttempts: GetenvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:   GetenvDuration("RETRY_BASE_DELAY", time.Second),
			RetryMaxJitter:   GetenvDuration("RETRY_MAX_JITTER", time.Second),
		},
		Metrics: MetricsPushConfig{
			Mode:           strings.ToLower(Getenv("METRICS_PUSH_MODE", "none")),
			PushgatewayURL: Getenv("PUSHGATEWAY_URL", ""),
			RemoteWriteURL: Getenv("REMOTE_WRITE_URL", ""),
			AuthToken:      Getenv("METRICS_AUTH_TOKEN", ""),
		},
		Ledger: LedgerConfig{
			Driver: strings.ToLower(Getenv("LEDGER_DRIVER", "postgres")),
			DSN:    Getenv("LEDGER_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     Getenv("REDIS_ADDR", ""),
			Password: Getenv("REDIS_PASSWORD", ""),
			DB:       GetenvInt("REDIS_DB", 0),
		},
	}

	return cfg
}

// Validate checks the settings every job needs before touching the network.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return ErrMissingProjectID
	}
	return nil
}

func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// Lookup reports whether key is set to a non-blank value.
func Lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}
