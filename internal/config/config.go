package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "INCIDENTD_"

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{
	"server.cors_allowed_origins": true,
	"signature.extra_prefixes":    true,
	"ingest.http_endpoints":       true,
	"ingest.kafka.brokers":        true,
}

// Config is the full process configuration.
type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Database      DatabaseConfig       `koanf:"database" validate:"required"`
	Observability *ObservabilityConfig `koanf:"observability" validate:"required"`
	Signature     SignatureConfig      `koanf:"signature"`
	Dedup         DedupConfig          `koanf:"dedup"`
	Ingest        IngestConfig         `koanf:"ingest"`
	Storage       *StorageConfig       `koanf:"storage"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// DatabaseConfig selects the store. Host fields apply to postgres only.
type DatabaseConfig struct {
	Driver          string `koanf:"driver" validate:"required,oneof=postgres sqlite memory"`
	Host            string `koanf:"host" validate:"required_if=Driver postgres"`
	Port            int    `koanf:"port" validate:"required_if=Driver postgres"`
	User            string `koanf:"user" validate:"required_if=Driver postgres"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name" validate:"required_if=Driver postgres"`
	SSLMode         string `koanf:"ssl_mode"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time"`
	LogLevel        string `koanf:"log_level"`
	SQLitePath      string `koanf:"sqlite_path" validate:"required_if=Driver sqlite"`
}

// DSN renders the Postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return u.String()
}

// SignatureConfig maps onto signature.Config.
type SignatureConfig struct {
	TopFrames             int      `koanf:"top_frames" validate:"gt=0"`
	IncludeLineNumber     bool     `koanf:"include_line_number"`
	FilterStdlibFrames    bool     `koanf:"filter_stdlib_frames"`
	FilterFrameworkFrames bool     `koanf:"filter_framework_frames"`
	ExtraPrefixes         []string `koanf:"extra_prefixes"`
}

type DedupConfig struct {
	ConflictRetries int `koanf:"conflict_retries" validate:"gte=0"`
}

// IngestConfig sizes the ingest queue and lists the inputs to start.
type IngestConfig struct {
	Workers       int         `koanf:"workers" validate:"gt=0"`
	QueueSize     int         `koanf:"queue_size" validate:"gt=0"`
	HTTPEndpoints []string    `koanf:"http_endpoints"`
	Kafka         KafkaConfig `koanf:"kafka"`
}

// KafkaConfig enables the Kafka input. Start applies to a new group only.
type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `koanf:"topic" validate:"required_if=Enabled true"`
	Group   string   `koanf:"group"`
	Start   string   `koanf:"start" validate:"omitempty,oneof=earliest latest"`
}

type StorageConfig struct {
	O3 *O3Config `koanf:"o3"`
}

// O3Config points at an Akave O3 (S3-compatible) bucket used for incident archives.
type O3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

// Defaults returns the configuration used for every key the environment leaves unset.
func Defaults() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  60,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "incidentd",
			Name:            "incidentd",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 300,
			ConnMaxIdleTime: 60,
			LogLevel:        "warn",
			SQLitePath:      "data/incidentd.db",
		},
		Observability: DefaultObservabilityConfig(),
		Signature: SignatureConfig{
			TopFrames:          5,
			FilterStdlibFrames: true,
		},
		Dedup: DedupConfig{ConflictRetries: 3},
		Ingest: IngestConfig{
			Workers:   4,
			QueueSize: 1024,
			Kafka:     KafkaConfig{Group: "incidentd"},
		},
	}
}

// LoadConfig reads an optional .env file and INCIDENTD_* environment variables
// on top of Defaults. A double underscore separates nesting levels, so
// INCIDENTD_SERVER__PORT sets server.port.
func LoadConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	mainConfig := Defaults()
	if err := k.Unmarshal("", mainConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(mainConfig); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	if mainConfig.Observability.Environment == "" {
		mainConfig.Observability.Environment = mainConfig.Primary.Env
	}
	if err := mainConfig.Observability.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}
	return mainConfig, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
