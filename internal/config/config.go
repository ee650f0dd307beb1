// Package config loads and validates ETL configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultSourceURL is the published Express Entry rounds page.
const DefaultSourceURL = "https://www.canada.ca/en/immigration-refugees-citizenship/corporate/mandate/" +
	"policies-operational-instructions-agreements/ministerial-instructions/express-entry-rounds.html"

// EnvPrefix namespaces environment overrides, e.g. CRSETL_SINK_KIND.
const EnvPrefix = "CRSETL"

// Sink kinds accepted by sink.kind.
const (
	SinkFile     = "file"
	SinkDynamoDB = "dynamodb"
	SinkPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Server     ServerConfig     `mapstructure:"server"`
}

// SourceConfig controls how the rounds page is fetched.
type SourceConfig struct {
	URL                  string `mapstructure:"url"`
	UserAgent            string `mapstructure:"user_agent"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	Render               bool   `mapstructure:"render"`
	RenderTimeoutSeconds int    `mapstructure:"render_timeout_seconds"`
	WaitSelector         string `mapstructure:"wait_selector"`
}

// SinkConfig selects and configures the destination.
type SinkConfig struct {
	Kind     string         `mapstructure:"kind"`
	File     FileConfig     `mapstructure:"file"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// FileConfig places the JSON/CSV exports on disk or in a GCS bucket.
type FileConfig struct {
	BaseName  string `mapstructure:"base_name"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DynamoDBConfig describes the destination table.
type DynamoDBConfig struct {
	Table            string  `mapstructure:"table"`
	Region           string  `mapstructure:"region"`
	Endpoint         string  `mapstructure:"endpoint"`
	BatchSize        int     `mapstructure:"batch_size"`
	BatchesPerSecond float64 `mapstructure:"batches_per_second"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CheckpointConfig places the progress journal.
type CheckpointConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Location string `mapstructure:"location"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig points at an optional Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// NotifyConfig holds metadata for publish-subscribe notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from an optional .env file, an optional config file and
// the environment, in increasing precedence.
func Load(path string) (Config, error) {
	if err := loadDotenv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Sink.Kind = strings.ToLower(strings.TrimSpace(cfg.Sink.Kind))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotenv populates unset environment variables from path when it exists.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.url", DefaultSourceURL)
	v.SetDefault("source.user_agent", "crs-etl/1.0")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("source.render", false)
	v.SetDefault("source.render_timeout_seconds", 45)
	v.SetDefault("source.wait_selector", "table tbody tr")
	v.SetDefault("sink.kind", SinkFile)
	v.SetDefault("sink.file.base_name", "CRS_draw_score_history")
	v.SetDefault("sink.file.dir", ".")
	v.SetDefault("sink.file.gcs_bucket", "")
	v.SetDefault("sink.file.prefix", "")
	v.SetDefault("sink.dynamodb.table", "CRS_history")
	v.SetDefault("sink.dynamodb.region", "ca-central-1")
	v.SetDefault("sink.dynamodb.endpoint", "")
	v.SetDefault("sink.dynamodb.batch_size", 25)
	v.SetDefault("sink.dynamodb.batches_per_second", 0)
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.table", "crs_history")
	v.SetDefault("sink.postgres.max_conns", 0)
	v.SetDefault("checkpoint.log_file", "logfile.txt")
	v.SetDefault("checkpoint.location", "UTC")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "crs_etl")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Source.Render && c.Source.RenderTimeoutSeconds <= 0 {
		return fmt.Errorf("source.render_timeout_seconds must be > 0 when render is enabled")
	}
	switch c.Sink.Kind {
	case SinkFile:
		if c.Sink.File.BaseName == "" {
			return fmt.Errorf("sink.file.base_name is required")
		}
	case SinkDynamoDB:
		if c.Sink.DynamoDB.Table == "" {
			return fmt.Errorf("sink.dynamodb.table is required")
		}
		if c.Sink.DynamoDB.BatchSize <= 0 || c.Sink.DynamoDB.BatchSize > 25 {
			return fmt.Errorf("sink.dynamodb.batch_size must be between 1 and 25")
		}
		if c.Sink.DynamoDB.BatchesPerSecond < 0 {
			return fmt.Errorf("sink.dynamodb.batches_per_second must be >= 0")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required when sink.kind is postgres")
		}
	default:
		return fmt.Errorf("sink.kind %q is not one of file, dynamodb, postgres", c.Sink.Kind)
	}
	if c.Checkpoint.LogFile == "" {
		return fmt.Errorf("checkpoint.log_file is required")
	}
	if (c.Notify.ProjectID == "") != (c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout converts source.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// RenderTimeout converts source.render_timeout_seconds into a duration.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Source.RenderTimeoutSeconds) * time.Second
}
