// Package config loads the ingestion service configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aqplatform/ingestion/internal/database"
)

// Ingestion modes.
const (
	ModeHistorical = "historical"
	ModeRealtime   = "realtime"
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	// ErrInvalidMode is returned for an INGESTION_MODE other than historical or realtime.
	ErrInvalidMode = errors.New("invalid ingestion mode")

	// ErrInvalidFormat is returned for a LOG_FORMAT other than console or json.
	ErrInvalidFormat = errors.New("invalid log format")

	// ErrInvalidValue is returned when a variable cannot be parsed.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config is the service configuration. It is built once at startup and passed
// to the components that need it.
type Config struct {
	Database database.Config

	// EnsureSchema applies the bundled schema at startup. Off by default:
	// production databases are migrated by the platform.
	EnsureSchema bool

	AQICN AQICNConfig

	// HistoricalDataPath is the directory the mapping's csv_file entries are relative to.
	HistoricalDataPath string

	// StationMappingPath is the station mapping YAML file.
	StationMappingPath string

	LogLevel  string
	LogFormat string

	// Mode is the default mode for the worker's triggered runs.
	Mode string

	// Interval between realtime passes in the worker.
	Interval time.Duration

	Port string

	Environment  string
	OTELEnabled  bool
	OTLPEndpoint string

	PubSubProjectID    string
	PubSubSubscription string

	// errs collects parse failures reported by Validate.
	errs []error
}

// AQICNConfig configures the realtime API adapter.
type AQICNConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration

	// Cities are polled in addition to the coordinates of stored stations.
	Cities []string
}

// Load reads .env from the working directory when present and builds the
// configuration from the environment. Values already set in the environment
// win over .env entries.
func Load() Config {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	return FromEnv()
}

// LoadFile is Load with an explicit .env path. A missing file is an error.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return FromEnv(), nil
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() Config {
	c := Config{
		Database:     database.ConfigFromEnv(),
		EnsureSchema: os.Getenv("DB_ENSURE_SCHEMA") == "true",
		AQICN: AQICNConfig{
			Token:   firstEnv("TOKEN_API_AQICN", "AQICN_API_KEY"),
			BaseURL: getEnvOrDefault("AQICN_BASE_URL", "https://api.waqi.info"),
			Cities:  splitList(os.Getenv("AQICN_CITIES")),
		},
		HistoricalDataPath: resolvePath(getEnvOrDefault("HISTORICAL_DATA_PATH", "../data_air")),
		StationMappingPath: resolvePath(getEnvOrDefault("STATION_MAPPING_PATH", "data/station_mapping.yaml")),
		LogLevel:           strings.ToLower(getEnvOrDefault("INGESTION_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnvOrDefault("LOG_FORMAT", FormatConsole)),
		Mode:               strings.ToLower(getEnvOrDefault("INGESTION_MODE", ModeHistorical)),
		Port:               getEnvOrDefault("APP_PORT", "8080"),
		Environment:        getEnvOrDefault("APP_ENV", "development"),
		OTELEnabled:        os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:       getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
	}

	c.AQICN.Timeout = c.duration("AQICN_TIMEOUT", 10*time.Second)
	c.Interval = c.duration("INGESTION_INTERVAL", 10*time.Minute)

	return c
}

// Validate reports every malformed or unsupported value at once.
func (c Config) Validate() error {
	errs := append([]error(nil), c.errs...)

	switch c.Mode {
	case ModeHistorical, ModeRealtime:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode))
	}

	switch c.LogFormat {
	case FormatConsole, FormatJSON, "text":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidFormat, c.LogFormat))
	}

	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("%w: INGESTION_INTERVAL must be positive", ErrInvalidValue))
	}
	if c.AQICN.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: AQICN_TIMEOUT must be positive", ErrInvalidValue))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("%w: APP_PORT %q", ErrInvalidValue, c.Port))
	}

	return errors.Join(errs...)
}

// DatabaseURL returns the URL store.Open should be called with.
func (c Config) DatabaseURL() string {
	return c.Database.ConnectionString()
}

// PubSubEnabled reports whether the worker should subscribe to job triggers.
func (c Config) PubSubEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubSubscription != ""
}

func (c *Config) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw))
		return def
	}
	return d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
