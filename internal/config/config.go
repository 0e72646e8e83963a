// Package config provides the configuration of the colflat service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Mode represents the services to run.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeConsumer Mode = "consumer"
	ModeHTTP     Mode = "http"
)

// Datasets known to the processor.
const (
	DatasetEvents = "events"
	DatasetErrors = "errors"
)

// Config holds the configuration of every colflat service.
type Config struct {
	// Mode specifies which services to run: all, consumer, http
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Log       LogConfig       `json:"log" yaml:"log"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
	Processor ProcessorConfig `json:"processor" yaml:"processor"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Spool     SpoolConfig     `json:"spool" yaml:"spool"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is logfmt or json
	Format string `json:"format" yaml:"format"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// KafkaConfig holds stream configuration.
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`

	// Topic carries insert and replacement messages
	Topic string `json:"topic" yaml:"topic"`

	// ReplacementsTopic receives forwarded replacement messages. When empty
	// replacements are only spooled locally.
	ReplacementsTopic string `json:"replacements_topic" yaml:"replacements_topic"`

	// ReplacementPartitions is the partition count of ReplacementsTopic
	ReplacementPartitions int32 `json:"replacement_partitions" yaml:"replacement_partitions"`

	ConsumerGroup string `json:"consumer_group" yaml:"consumer_group"`

	// MaxPollRecords bounds the records handled per poll
	MaxPollRecords int `json:"max_poll_records" yaml:"max_poll_records"`
}

// ProcessorConfig holds row flattening configuration.
type ProcessorConfig struct {
	// Dataset is events or errors
	Dataset string `json:"dataset" yaml:"dataset"`

	DefaultRetentionDays int            `json:"default_retention_days" yaml:"default_retention_days"`
	RetentionOverrides   map[uint64]int `json:"retention_overrides" yaml:"retention_overrides"`

	// KeepOldEvents stores events older than their retention instead of
	// dropping them
	KeepOldEvents bool `json:"keep_old_events" yaml:"keep_old_events"`

	// StacktraceDenylist lists projects whose stack traces are not flattened
	StacktraceDenylist []uint64 `json:"stacktrace_denylist" yaml:"stacktrace_denylist"`
}

// StoreConfig holds row store configuration.
type StoreConfig struct {
	// Dir holds the live database and local segments
	Dir string `json:"dir" yaml:"dir"`

	// MaxRowsPerSegment seals a segment after this many rows (0 disables)
	MaxRowsPerSegment int `json:"max_rows_per_segment" yaml:"max_rows_per_segment"`

	// ArchivePrefix is prepended to archived segment paths
	ArchivePrefix string `json:"archive_prefix" yaml:"archive_prefix"`
}

// StorageConfig holds segment archive configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
	Prefix       string `json:"prefix" yaml:"prefix"`
}

// SpoolConfig holds the replacement spool configuration.
type SpoolConfig struct {
	Dir             string `json:"dir" yaml:"dir"`
	MaxSegmentBytes int64  `json:"max_segment_bytes" yaml:"max_segment_bytes"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/colflat",
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:                 "events",
			ReplacementPartitions: 1,
			ConsumerGroup:         "colflat",
			MaxPollRecords:        1000,
		},
		Processor: ProcessorConfig{
			Dataset:              DatasetEvents,
			DefaultRetentionDays: 90,
		},
		Store: StoreConfig{
			MaxRowsPerSegment: 100000,
			ArchivePrefix:     "segments",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Spool: SpoolConfig{
			MaxSegmentBytes: 16 << 20,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/colflat"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(c.DataDir, "store")
	}
	if c.Spool.Dir == "" {
		c.Spool.Dir = filepath.Join(c.DataDir, "spool")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeConsumer, ModeHTTP:
	default:
		return fmt.Errorf("invalid mode: %s (must be all, consumer, or http)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Processor.Dataset {
	case DatasetEvents, DatasetErrors:
	default:
		return fmt.Errorf("invalid processor.dataset: %q (must be events or errors)", c.Processor.Dataset)
	}
	if c.Processor.DefaultRetentionDays <= 0 {
		return fmt.Errorf("processor.default_retention_days must be positive, got %d", c.Processor.DefaultRetentionDays)
	}
	for project, days := range c.Processor.RetentionOverrides {
		if days <= 0 {
			return fmt.Errorf("processor.retention_overrides[%d] must be positive, got %d", project, days)
		}
	}

	switch c.Storage.Type {
	case "none", "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}

	if c.Store.MaxRowsPerSegment < 0 {
		return fmt.Errorf("store.max_rows_per_segment must not be negative")
	}

	if c.ShouldRunConsumer() {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required in mode %s", c.Mode)
		}
		if c.Kafka.Topic == "" || c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka.topic and kafka.consumer_group are required in mode %s", c.Mode)
		}
	}
	if c.Kafka.ReplacementsTopic != "" && c.Kafka.ReplacementPartitions <= 0 {
		return fmt.Errorf("kafka.replacement_partitions must be positive")
	}

	return nil
}

// ShouldRunConsumer returns true if the stream consumer should run.
func (c *Config) ShouldRunConsumer() bool {
	return c.Mode == ModeAll || c.Mode == ModeConsumer
}

// ShouldRunHTTP returns true if the HTTP API should run.
func (c *Config) ShouldRunHTTP() bool {
	return c.Mode == ModeAll || c.Mode == ModeHTTP
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies COLFLAT_* environment overrides. Malformed numeric
// values are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(name string, set func(int64)) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			return
		}
		set(n)
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	if v := os.Getenv("COLFLAT_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	str("COLFLAT_DATA_DIR", &cfg.DataDir)
	str("COLFLAT_LOG_LEVEL", &cfg.Log.Level)
	str("COLFLAT_LOG_FORMAT", &cfg.Log.Format)

	str("COLFLAT_HTTP_ADDR", &cfg.HTTP.Addr)

	if v := os.Getenv("COLFLAT_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	str("COLFLAT_KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("COLFLAT_KAFKA_REPLACEMENTS_TOPIC", &cfg.Kafka.ReplacementsTopic)
	str("COLFLAT_KAFKA_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)
	num("COLFLAT_KAFKA_REPLACEMENT_PARTITIONS", func(n int64) { cfg.Kafka.ReplacementPartitions = int32(n) })

	str("COLFLAT_PROCESSOR_DATASET", &cfg.Processor.Dataset)
	num("COLFLAT_PROCESSOR_DEFAULT_RETENTION_DAYS", func(n int64) { cfg.Processor.DefaultRetentionDays = int(n) })
	boolean("COLFLAT_PROCESSOR_KEEP_OLD_EVENTS", &cfg.Processor.KeepOldEvents)

	str("COLFLAT_STORE_DIR", &cfg.Store.Dir)
	num("COLFLAT_STORE_MAX_ROWS_PER_SEGMENT", func(n int64) { cfg.Store.MaxRowsPerSegment = int(n) })

	str("COLFLAT_STORAGE_TYPE", &cfg.Storage.Type)
	str("COLFLAT_STORAGE_PATH", &cfg.Storage.Path)
	str("COLFLAT_S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("COLFLAT_S3_REGION", &cfg.Storage.S3.Region)
	str("COLFLAT_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("COLFLAT_S3_PREFIX", &cfg.Storage.S3.Prefix)

	str("COLFLAT_SPOOL_DIR", &cfg.Spool.Dir)

	return firstErr
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Store.Dir, c.Spool.Dir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
