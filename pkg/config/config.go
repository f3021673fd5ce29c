package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Models      ModelsConfig     `yaml:"models"`
	Metadata    MetadataConfig   `yaml:"metadata"`
	Artifacts   ArtifactsConfig  `yaml:"artifacts"`
	Prediction  PredictionConfig `yaml:"prediction"`
	Data        DataConfig       `yaml:"data"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Remote      RemoteConfig     `yaml:"remote"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
	Output string `yaml:"output" default:"stdout"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// ModelsConfig drives the registry and model lifecycle.
type ModelsConfig struct {
	MinDataPoints     int           `yaml:"min_data_points" default:"100"`
	FeatureWindowSize int           `yaml:"feature_window_size" default:"20"`
	MaxHistoricalDays int           `yaml:"max_historical_days" default:"2520"`
	TrainingDays      int           `yaml:"training_days" default:"756"`
	TrainSplit        float64       `yaml:"train_split" default:"0.8"`
	CleanupDays       int           `yaml:"cleanup_days" default:"30"`
	CleanupCron       string        `yaml:"cleanup_cron" default:"0 0 3 * * *"`
	UpdateInterval    time.Duration `yaml:"update_interval" default:"1h"`
	PredictionTimeout time.Duration `yaml:"prediction_timeout" default:"10s"`
}

type MetadataConfig struct {
	Backend string `yaml:"backend" default:"file"` // file, sqlite, postgres
	Path    string `yaml:"path" default:"./data/models/metadata.json"`
	DSN     string `yaml:"dsn"`
}

type ArtifactsConfig struct {
	Backend string    `yaml:"backend" default:"fs"` // fs, redis, oss
	Path    string    `yaml:"path" default:"./data/models"`
	Prefix  string    `yaml:"prefix" default:"fincast:artifact"`
	OSS     OSSConfig `yaml:"oss"`
}

type OSSConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix" default:"models"`
}

type PredictionConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl" default:"5m"`
	BatchConcurrency  int           `yaml:"batch_concurrency" default:"8"`
	MaxBatchSize      int           `yaml:"max_batch_size" default:"100"`
	HistoryMaxEntries int           `yaml:"history_max_entries" default:"1000"`
	HistoryRetention  time.Duration `yaml:"history_retention" default:"168h"`
	HistoryPrefix     string        `yaml:"history_prefix" default:"predictions:history"`
}

// DataConfig selects the historical data provider.
type DataConfig struct {
	Source string `yaml:"source" default:"csv"` // csv or clickhouse
	CSVDir string `yaml:"csv_dir" default:"./data/candles"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Workers    int           `yaml:"workers" default:"2"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	KeyPrefix  string        `yaml:"key_prefix" default:"fincast:queue"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	Topic        string   `yaml:"topic" default:"fincast.events"`
	RequiredAcks int      `yaml:"required_acks" default:"1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	Table            string        `yaml:"table" default:"candles_1d"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"10s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// RemoteConfig points the "remote" model family at an external inference service.
type RemoteConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" default:"30s"`
	APIKey   string        `yaml:"api_key"`
}

// Default returns a config populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("METADATA_BACKEND"); v != "" {
		c.Metadata.Backend = v
	}
	if v := os.Getenv("METADATA_DSN"); v != "" {
		c.Metadata.DSN = v
	}
	if v := os.Getenv("ARTIFACTS_BACKEND"); v != "" {
		c.Artifacts.Backend = v
	}
	if v := os.Getenv("OSS_ACCESS_KEY_ID"); v != "" {
		c.Artifacts.OSS.AccessKeyID = v
	}
	if v := os.Getenv("OSS_ACCESS_KEY_SECRET"); v != "" {
		c.Artifacts.OSS.AccessKeySecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REMOTE_MODEL_ENDPOINT"); v != "" {
		c.Remote.Endpoint = v
	}
	if v := os.Getenv("REMOTE_MODEL_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Metadata.Backend {
	case "file", "sqlite":
		if c.Metadata.Path == "" {
			return fmt.Errorf("metadata.path is required for backend %q", c.Metadata.Backend)
		}
	case "postgres":
		if c.Metadata.DSN == "" {
			return fmt.Errorf("metadata.dsn is required for backend 'postgres'")
		}
	default:
		return fmt.Errorf("metadata.backend must be 'file', 'sqlite' or 'postgres', got '%s'", c.Metadata.Backend)
	}
	switch c.Artifacts.Backend {
	case "fs":
		if c.Artifacts.Path == "" {
			return fmt.Errorf("artifacts.path is required for backend 'fs'")
		}
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("artifacts.backend 'redis' requires redis.enabled")
		}
	case "oss":
		if c.Artifacts.OSS.Endpoint == "" || c.Artifacts.OSS.Bucket == "" {
			return fmt.Errorf("artifacts.oss.endpoint and artifacts.oss.bucket are required for backend 'oss'")
		}
	default:
		return fmt.Errorf("artifacts.backend must be 'fs', 'redis' or 'oss', got '%s'", c.Artifacts.Backend)
	}
	if c.Data.Source != "csv" && c.Data.Source != "clickhouse" {
		return fmt.Errorf("data.source must be 'csv' or 'clickhouse', got '%s'", c.Data.Source)
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Models.MinDataPoints < 2 {
		return fmt.Errorf("models.min_data_points must be at least 2")
	}
	if c.Models.TrainSplit <= 0 || c.Models.TrainSplit >= 1 {
		return fmt.Errorf("models.train_split must be in (0, 1)")
	}
	if c.Models.PredictionTimeout <= 0 {
		return fmt.Errorf("models.prediction_timeout must be positive")
	}
	if c.Prediction.BatchConcurrency < 1 {
		return fmt.Errorf("prediction.batch_concurrency must be at least 1")
	}
	if c.Prediction.HistoryMaxEntries < 1 {
		return fmt.Errorf("prediction.history_max_entries must be at least 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
