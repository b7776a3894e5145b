package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/config"
)

// LoggerService owns the process logger and the optional New Relic application.
type LoggerService struct {
	Logger zerolog.Logger
	NR     *newrelic.Application
}

// New builds a LoggerService from the observability config. New Relic is only
// started when enabled.
func New(cfg *config.ObservabilityConfig) (*LoggerService, error) {
	l := NewLogger(cfg, os.Stdout)
	svc := &LoggerService{Logger: l}
	if !cfg.NewRelic.Enabled {
		return svc, nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.NewRelic.AppName),
		newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("new relic: %w", err)
	}
	svc.NR = app
	return svc, nil
}

// NewLogger returns a zerolog logger writing JSON, or console output outside
// production when the format asks for it.
func NewLogger(cfg *config.ObservabilityConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.Logging.Format == "console" && !cfg.IsProduction() {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger()
}

// Shutdown flushes New Relic data.
func (s *LoggerService) Shutdown() {
	if s.NR != nil {
		s.NR.Shutdown(10 * time.Second)
	}
}
