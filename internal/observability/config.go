package observability

import (
	"strings"

	"github.com/smallbiznis/cloudcost/internal/config"
)

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "cloudcost"
	}
	otlpProtocol := config.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if tracesProtocol, ok := config.Lookup("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"); ok {
		otlpProtocol = tracesProtocol
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(config.Getenv("DEPLOYMENT_ENV", cfg.Environment)),
		Version:              strings.TrimSpace(config.Getenv("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:             strings.ToLower(config.Getenv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(config.Getenv("LOG_FORMAT", "json")),
		OtelEnabled:          config.GetenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: strings.TrimSpace(config.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)),
		OtelExporterProtocol: strings.ToLower(otlpProtocol),
		OtelSamplingRatio:    config.GetenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
