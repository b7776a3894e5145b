package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/incidentd/internal/config"
)

func TestNewLogger_JSONFields(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Environment = "test"
	var buf bytes.Buffer

	l := NewLogger(cfg, &buf)
	l.Info().Str("incident_id", "abc").Msg("incident created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "incidentd", line["service"])
	assert.Equal(t, "test", line["environment"])
	assert.Equal(t, "abc", line["incident_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNewLogger_Level(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Logging.Level = "warn"
	var buf bytes.Buffer

	l := NewLogger(cfg, &buf)
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestNew_WithoutNewRelic(t *testing.T) {
	svc, err := New(config.DefaultObservabilityConfig())
	require.NoError(t, err)
	assert.Nil(t, svc.NR)
	svc.Shutdown()
}
