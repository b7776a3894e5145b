package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Signature.TopFrames)
	assert.True(t, cfg.Signature.FilterStdlibFrames)
	assert.Equal(t, 3, cfg.Dedup.ConflictRetries)
	assert.Equal(t, "development", cfg.Observability.Environment)
	assert.Nil(t, cfg.Storage)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("INCIDENTD_PRIMARY__ENV", "production")
	t.Setenv("INCIDENTD_SERVER__PORT", "9090")
	t.Setenv("INCIDENTD_DATABASE__DRIVER", "sqlite")
	t.Setenv("INCIDENTD_DATABASE__SQLITE_PATH", "/tmp/x.db")
	t.Setenv("INCIDENTD_SIGNATURE__TOP_FRAMES", "8")
	t.Setenv("INCIDENTD_SIGNATURE__INCLUDE_LINE_NUMBER", "true")
	t.Setenv("INCIDENTD_SIGNATURE__EXTRA_PREFIXES", "com.vendor., io.netty.")
	t.Setenv("INCIDENTD_INGEST__KAFKA__ENABLED", "true")
	t.Setenv("INCIDENTD_INGEST__KAFKA__BROKERS", "a:9092,b:9092")
	t.Setenv("INCIDENTD_INGEST__KAFKA__TOPIC", "errors")
	t.Setenv("INCIDENTD_STORAGE__O3__BUCKET", "incidents")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.SQLitePath)
	assert.Equal(t, 8, cfg.Signature.TopFrames)
	assert.True(t, cfg.Signature.IncludeLineNumber)
	assert.Equal(t, []string{"com.vendor.", "io.netty."}, cfg.Signature.ExtraPrefixes)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Ingest.Kafka.Brokers)
	assert.Equal(t, "incidentd", cfg.Ingest.Kafka.Group)
	assert.Equal(t, "production", cfg.Observability.Environment)
	assert.True(t, cfg.Observability.IsProduction())
	require.NotNil(t, cfg.Storage)
	require.NotNil(t, cfg.Storage.O3)
	assert.Equal(t, "incidents", cfg.Storage.O3.Bucket)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("INCIDENTD_SIGNATURE__TOP_FRAMES", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_KafkaNeedsBrokers(t *testing.T) {
	t.Setenv("INCIDENTD_INGEST__KAFKA__ENABLED", "true")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_KafkaStart(t *testing.T) {
	t.Setenv("INCIDENTD_INGEST__KAFKA__START", "middle")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("INCIDENTD_INGEST__KAFKA__START", "latest")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "latest", cfg.Ingest.Kafka.Start)
}

func TestObservabilityValidate(t *testing.T) {
	c := DefaultObservabilityConfig()
	require.NoError(t, c.Validate())

	c.Logging.Level = "loud"
	assert.Error(t, c.Validate())

	c = DefaultObservabilityConfig()
	c.NewRelic.Enabled = true
	assert.Error(t, c.Validate())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss", Name: "incidents", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/incidents?sslmode=disable", d.DSN())
}
