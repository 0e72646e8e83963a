// Package replacer forwards replacement messages (merges, unmerges,
// deletions and similar group level changes) to the replacements stream
// without interpreting them.
package replacer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spaolacci/murmur3"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/processor"
)

// Sink receives replacement batches.
type Sink interface {
	Forward(ctx context.Context, batch *processor.ReplacementBatch) error
}

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Partitions is the partition count of Topic. Every replacement of a
	// project lands on the same partition.
	Partitions int32

	ProduceTimeout time.Duration
}

// KafkaSink produces replacement messages to a Kafka topic, keyed and
// partitioned by project id.
type KafkaSink struct {
	client  *kgo.Client
	cfg     KafkaConfig
	logger  log.Logger
	metrics *observability.Metrics
}

// NewKafkaSink creates a sink with its own producer client. kpromMetrics
// may be nil.
func NewKafkaSink(cfg KafkaConfig, logger log.Logger, metrics *observability.Metrics, kpromMetrics *kprom.Metrics) (*KafkaSink, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("replacer: topic is required")
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = 10 * time.Second
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.DisableClientMetrics(),
	}
	if kpromMetrics != nil {
		opts = append(opts, kgo.WithHooks(kpromMetrics))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("replacer: creating kafka client: %w", err)
	}

	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &KafkaSink{
		client:  client,
		cfg:     cfg,
		logger:  log.With(logger, "component", "replacer", "topic", cfg.Topic),
		metrics: metrics,
	}, nil
}

// PartitionFor returns the partition a project's replacements go to.
func PartitionFor(projectID string, partitions int32) int32 {
	if partitions <= 1 {
		return 0
	}
	return int32(murmur3.Sum32([]byte(projectID)) % uint32(partitions))
}

// Forward produces every message of the batch in order and waits for the
// broker acknowledgements.
func (s *KafkaSink) Forward(ctx context.Context, batch *processor.ReplacementBatch) error {
	if batch == nil || len(batch.Messages) == 0 {
		return nil
	}

	partition := PartitionFor(batch.ProjectID, s.cfg.Partitions)
	records := make([]*kgo.Record, 0, len(batch.Messages))
	for _, msg := range batch.Messages {
		value, err := processor.EncodeMessage(msg)
		if err != nil {
			return errors.NewInternalError("replacer: encode message", err)
		}
		records = append(records, &kgo.Record{
			Topic:     s.cfg.Topic,
			Key:       []byte(batch.ProjectID),
			Value:     value,
			Partition: partition,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProduceTimeout)
	defer cancel()
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		level.Error(s.logger).Log("msg", "failed to forward replacement", "project_id", batch.ProjectID, "err", err)
		return errors.NewStreamError(errors.CodeProduceFailed, "replacer: produce", err)
	}

	s.metrics.AddReplacementsForwarded(len(records))
	level.Debug(s.logger).Log("msg", "forwarded replacement", "project_id", batch.ProjectID,
		"partition", partition, "messages", len(records))
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() {
	s.client.Close()
}
