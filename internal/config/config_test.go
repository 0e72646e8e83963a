package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValidAfterResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHTTP
	cfg.Resolve()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("./data/colflat", "store"), cfg.Store.Dir)
	assert.Equal(t, filepath.Join("./data/colflat", "spool"), cfg.Spool.Dir)
	assert.Equal(t, filepath.Join("./data/colflat", "archive"), cfg.Storage.Path)
	assert.True(t, cfg.ShouldRunHTTP())
	assert.False(t, cfg.ShouldRunConsumer())
	assert.False(t, cfg.Processor.KeepOldEvents)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"consumer without brokers", func(c *Config) { c.Mode = ModeConsumer }, false},
		{"consumer with brokers", func(c *Config) { c.Mode = ModeConsumer; c.Kafka.Brokers = []string{"k:9092"} }, true},
		{"bad mode", func(c *Config) { c.Mode = "compact" }, false},
		{"bad dataset", func(c *Config) { c.Processor.Dataset = "transactions" }, false},
		{"errors dataset", func(c *Config) { c.Processor.Dataset = DatasetErrors }, true},
		{"zero retention", func(c *Config) { c.Processor.DefaultRetentionDays = 0 }, false},
		{"bad override", func(c *Config) { c.Processor.RetentionOverrides = map[uint64]int{1: -1} }, false},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, false},
		{"s3 with bucket", func(c *Config) { c.Storage.Type = "s3"; c.Storage.S3.Bucket = "b" }, true},
		{"unknown storage", func(c *Config) { c.Storage.Type = "gcs" }, false},
		{"no archive", func(c *Config) { c.Storage.Type = "none" }, true},
		{"replacement partitions", func(c *Config) {
			c.Kafka.ReplacementsTopic = "r"
			c.Kafka.ReplacementPartitions = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = ModeHTTP
			tt.mutate(cfg)
			cfg.Resolve()
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colflat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: consumer
data_dir: /var/lib/colflat
http:
  addr: ":9000"
  read_timeout: 5s
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: events
  replacements_topic: event-replacements
  replacement_partitions: 8
processor:
  dataset: errors
  retention_overrides:
    42: 30
  keep_old_events: true
  stacktrace_denylist: [7, 8]
store:
  max_rows_per_segment: 500
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeConsumer, cfg.Mode)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	// Unset fields keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int32(8), cfg.Kafka.ReplacementPartitions)
	assert.Equal(t, DatasetErrors, cfg.Processor.Dataset)
	assert.Equal(t, map[uint64]int{42: 30}, cfg.Processor.RetentionOverrides)
	assert.True(t, cfg.Processor.KeepOldEvents)
	assert.Equal(t, []uint64{7, 8}, cfg.Processor.StacktraceDenylist)
	assert.Equal(t, 500, cfg.Store.MaxRowsPerSegment)
	assert.Equal(t, "/var/lib/colflat/store", cfg.Store.Dir)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colflat.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode": "http", "processor": {"dataset": "events", "retention_overrides": {"3": 10}}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeHTTP, cfg.Mode)
	assert.Equal(t, map[uint64]int{3: 10}, cfg.Processor.RetentionOverrides)
	assert.Equal(t, 90, cfg.Processor.DefaultRetentionDays)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "colflat.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = 'all'"), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COLFLAT_MODE", "consumer")
	t.Setenv("COLFLAT_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("COLFLAT_KAFKA_REPLACEMENT_PARTITIONS", "4")
	t.Setenv("COLFLAT_PROCESSOR_KEEP_OLD_EVENTS", "true")
	t.Setenv("COLFLAT_STORE_MAX_ROWS_PER_SEGMENT", "10")
	t.Setenv("COLFLAT_S3_BUCKET", "segments")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, ModeConsumer, cfg.Mode)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int32(4), cfg.Kafka.ReplacementPartitions)
	assert.True(t, cfg.Processor.KeepOldEvents)
	assert.Equal(t, 10, cfg.Store.MaxRowsPerSegment)
	assert.Equal(t, "segments", cfg.Storage.S3.Bucket)

	t.Setenv("COLFLAT_STORE_MAX_ROWS_PER_SEGMENT", "many")
	assert.Error(t, LoadFromEnv(cfg))
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.Store.Dir, cfg.Spool.Dir, cfg.Storage.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
