package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ObservabilityConfig covers logging and New Relic.
type ObservabilityConfig struct {
	ServiceName string         `koanf:"service_name" validate:"required"`
	Environment string         `koanf:"environment"`
	Logging     LoggingConfig  `koanf:"logging"`
	NewRelic    NewRelicConfig `koanf:"new_relic"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type NewRelicConfig struct {
	Enabled    bool   `koanf:"enabled"`
	LicenseKey string `koanf:"license_key"`
	AppName    string `koanf:"app_name"`
}

// DefaultObservabilityConfig logs at info level with New Relic disabled.
func DefaultObservabilityConfig() *ObservabilityConfig {
	return &ObservabilityConfig{
		ServiceName: "incidentd",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NewRelic: NewRelicConfig{AppName: "incidentd"},
	}
}

// Validate checks the log level/format and that New Relic has a license when enabled.
func (c *ObservabilityConfig) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q (want json or console)", c.Logging.Format)
	}
	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		return fmt.Errorf("new_relic.license_key is required when new relic is enabled")
	}
	return nil
}

// IsProduction reports whether logs should skip the console writer.
func (c *ObservabilityConfig) IsProduction() bool {
	return c.Environment == "production"
}
