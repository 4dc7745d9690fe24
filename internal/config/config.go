package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	loudness "loudness-monitor/internal/loudness/domain"
	matrix "loudness-monitor/internal/matrix/domain"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the service configuration.
type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	HTTPAddr       string `yaml:"http_addr"`
	StoreDriver    string `yaml:"store_driver"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`

	Matrix     MatrixConfig        `yaml:"matrix"`
	Display    DisplayConfig       `yaml:"display"`
	Thresholds loudness.Thresholds `yaml:"thresholds"`
	DateIndex  DateIndexConfig     `yaml:"date_index"`
	Ingest     IngestConfig        `yaml:"ingest"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	Influx     InfluxConfig        `yaml:"influxdb"`
}

// MatrixConfig tunes aggregation.
type MatrixConfig struct {
	Policy      string   `yaml:"policy"`
	FixedSlots  []string `yaml:"fixed_slots"`
	MaxRows     int      `yaml:"max_rows"`
	PageSize    int      `yaml:"page_size"`
	Percentiles bool     `yaml:"percentiles"`
}

// DisplayConfig controls reading annotation.
type DisplayConfig struct {
	Timezone string `yaml:"timezone"`
	Annotate bool   `yaml:"annotate"`
}

// DateIndexConfig selects the date index strategy.
type DateIndexConfig struct {
	Strategy string `yaml:"strategy"`
}

// IngestConfig guards POST /submit.
type IngestConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// KafkaConfig enables the submission consumer when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Enabled reports whether the consumer should run.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// InfluxConfig enables the measurement mirror when URL is set.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether the sink should be wired.
func (i InfluxConfig) Enabled() bool { return i.URL != "" }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		StoreDriver:    DriverPostgres,
		MigrateOnStart: true,
		Matrix: MatrixConfig{
			Policy:     "hourly",
			FixedSlots: matrix.DefaultFixedSlots(),
			MaxRows:    100000,
			PageSize:   5000,
		},
		Display:   DisplayConfig{Timezone: "America/New_York"},
		DateIndex: DateIndexConfig{Strategy: "probe"},
		Kafka:     KafkaConfig{Topic: "loudness.submissions", GroupID: "loudness-monitor"},
		Influx:    InfluxConfig{Bucket: "loudness"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// LOUDNESS_CONFIG and the environment, in that order.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("LOUDNESS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.StoreDriver = strings.ToLower(getenvDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.MigrateOnStart = getenvBoolDefault("DB_MIGRATE_ON_START", cfg.MigrateOnStart)

	cfg.Matrix.Policy = getenvDefault("MATRIX_POLICY", cfg.Matrix.Policy)
	if slots := splitCSV(os.Getenv("MATRIX_FIXED_SLOTS")); len(slots) > 0 {
		cfg.Matrix.FixedSlots = slots
	}
	cfg.Matrix.MaxRows = getenvIntDefault("MATRIX_MAX_ROWS", cfg.Matrix.MaxRows)
	cfg.Matrix.PageSize = getenvIntDefault("MATRIX_PAGE_SIZE", cfg.Matrix.PageSize)
	cfg.Matrix.Percentiles = getenvBoolDefault("MATRIX_PERCENTILES", cfg.Matrix.Percentiles)

	cfg.Display.Timezone = getenvDefault("DISPLAY_TIMEZONE", cfg.Display.Timezone)
	cfg.Display.Annotate = getenvBoolDefault("DISPLAY_ANNOTATE", cfg.Display.Annotate)

	low, high := os.Getenv("THRESHOLD_LOW"), os.Getenv("THRESHOLD_HIGH")
	if low != "" || high != "" {
		if low == "" || high == "" {
			return errors.New("config: THRESHOLD_LOW and THRESHOLD_HIGH must be set together")
		}
		lowDB, err := strconv.ParseFloat(low, 64)
		if err != nil {
			return fmt.Errorf("config: THRESHOLD_LOW: %w", err)
		}
		highDB, err := strconv.ParseFloat(high, 64)
		if err != nil {
			return fmt.Errorf("config: THRESHOLD_HIGH: %w", err)
		}
		cfg.Thresholds = loudness.Thresholds{LowDB: lowDB, HighDB: highDB, Enabled: true}
	}

	cfg.DateIndex.Strategy = getenvDefault("DATE_INDEX_STRATEGY", cfg.DateIndex.Strategy)
	cfg.Ingest.JWTSecret = getenvDefault("INGEST_JWT_SECRET", cfg.Ingest.JWTSecret)

	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.Topic = getenvDefault("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getenvDefault("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	cfg.Influx.URL = getenvDefault("INFLUXDB_URL", cfg.Influx.URL)
	cfg.Influx.Token = getenvDefault("INFLUXDB_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = getenvDefault("INFLUXDB_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = getenvDefault("INFLUXDB_BUCKET", cfg.Influx.Bucket)
	return nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Matrix.MaxRows <= 0 || c.Matrix.PageSize <= 0 {
		return errors.New("config: matrix max_rows and page_size must be positive")
	}
	if c.Thresholds.Enabled && c.Thresholds.LowDB > c.Thresholds.HighDB {
		return fmt.Errorf("config: %w", loudness.ErrInvalidThresholds)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: display timezone: %w", err)
	}
	switch strings.ToLower(c.DateIndex.Strategy) {
	case "", "probe", "scan":
	default:
		return fmt.Errorf("config: unknown date index strategy %q", c.DateIndex.Strategy)
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("config: KAFKA_TOPIC is required with KAFKA_BROKERS")
	}
	if c.Influx.Enabled() && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return errors.New("config: INFLUXDB_ORG and INFLUXDB_BUCKET are required with INFLUXDB_URL")
	}
	return nil
}

// Policy resolves the default bucketing policy.
func (c Config) Policy() (matrix.Policy, error) {
	return matrix.ParsePolicy(c.Matrix.Policy, c.Matrix.FixedSlots)
}

// Location resolves the display time zone.
func (c Config) Location() (*time.Location, error) {
	if c.Display.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Display.Timezone)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
