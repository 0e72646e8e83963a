// Package consumer reads event messages from Kafka, flattens them with the
// processor and hands the results to the row store and the replacement
// sink.
package consumer

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/multierror"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/processor"
	"github.com/arkilian/colflat/internal/replacer"
	"github.com/arkilian/colflat/pkg/types"
)

// Error stages recorded in metrics.
const (
	StageFetch   = "fetch"
	StageDecode  = "decode"
	StageProcess = "process"
	StageWrite   = "write"
	StageForward = "forward"
	StageCommit  = "commit"
)

// RowWriter appends processed rows.
type RowWriter interface {
	Write(ctx context.Context, rows []types.Row) error
}

// Config configures a Consumer.
type Config struct {
	Brokers        []string
	Topic          string
	ConsumerGroup  string
	MaxPollRecords int

	// Backoff bounds retries of retryable write and forward failures.
	Backoff backoff.Config
}

// Consumer is the stream runtime around a processor. Records are handled
// one at a time in offset order; offsets are committed after every record
// of a poll was handled.
type Consumer struct {
	cfg     Config
	client  *kgo.Client
	proc    *processor.Processor
	writer  RowWriter
	sink    replacer.Sink
	logger  log.Logger
	metrics *observability.Metrics
}

// New creates a consumer group client for cfg.Topic. sink may be nil, in
// which case replacement batches are dropped with a warning. kpromMetrics
// may be nil.
func New(cfg Config, proc *processor.Processor, writer RowWriter, sink replacer.Sink,
	logger log.Logger, metrics *observability.Metrics, kpromMetrics *kprom.Metrics) (*Consumer, error) {
	if cfg.Topic == "" || cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer: topic and consumer group are required")
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 1000
	}
	if cfg.Backoff.MinBackoff == 0 {
		cfg.Backoff = backoff.Config{
			MinBackoff: 100 * time.Millisecond,
			MaxBackoff: 5 * time.Second,
			MaxRetries: 10,
		}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.DisableClientMetrics(),
	}
	if kpromMetrics != nil {
		opts = append(opts, kgo.WithHooks(kpromMetrics))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("consumer: creating kafka client: %w", err)
	}

	return &Consumer{
		cfg:     cfg,
		client:  client,
		proc:    proc,
		writer:  writer,
		sink:    sink,
		logger:  log.With(logger, "component", "consumer", "topic", cfg.Topic),
		metrics: metrics,
	}, nil
}

// Run polls until ctx is cancelled or a record cannot be handled after
// retries. Offsets of a poll are only committed once every record in it
// was handled, so a failed run resumes from the last committed poll.
func (c *Consumer) Run(ctx context.Context) error {
	level.Info(c.logger).Log("msg", "consumer started", "group", c.cfg.ConsumerGroup)
	defer level.Info(c.logger).Log("msg", "consumer stopped")

	for ctx.Err() == nil {
		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := fetches.Err(); err != nil {
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				c.client.AllowRebalance()
				return nil
			}
			c.metrics.IncConsumerError(StageFetch)
			level.Warn(c.logger).Log("msg", "fetch errors", "err", collectFetchErrs(fetches))
		}

		var records []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) { records = append(records, r) })

		if err := c.handleRecords(ctx, records); err != nil {
			c.client.AllowRebalance()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(records) > 0 {
			if err := c.client.CommitRecords(ctx, records...); err != nil && ctx.Err() == nil {
				c.metrics.IncConsumerError(StageCommit)
				level.Warn(c.logger).Log("msg", "failed to commit offsets", "err", err)
			}
		}
		c.client.AllowRebalance()
	}
	return nil
}

func (c *Consumer) handleRecords(ctx context.Context, records []*kgo.Record) error {
	for _, r := range records {
		if err := c.HandleRecord(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// HandleRecord processes one record. Records that fail to decode or
// classify are logged with their position and skipped. Write and forward
// failures are retried while retryable; the final error is returned.
func (c *Consumer) HandleRecord(ctx context.Context, r *kgo.Record) error {
	msg, err := processor.DecodeMessage(r.Value)
	if err != nil {
		c.skip(r, StageDecode, err)
		return nil
	}

	meta := processor.Metadata{
		Offset:    uint64(r.Offset),
		Partition: uint32(r.Partition),
		Timestamp: r.Timestamp.UTC(),
	}
	result, err := c.proc.ProcessMessage(msg, meta)
	if err != nil {
		c.skip(r, StageProcess, err)
		return nil
	}

	switch batch := result.(type) {
	case *processor.InsertBatch:
		if c.writer == nil || len(batch.Rows) == 0 {
			return nil
		}
		return c.retry(ctx, StageWrite, func() error { return c.writer.Write(ctx, batch.Rows) })
	case *processor.ReplacementBatch:
		if c.sink == nil {
			level.Warn(c.logger).Log("msg", "no replacement sink configured; dropping replacement",
				"project_id", batch.ProjectID, "offset", r.Offset, "partition", r.Partition)
			return nil
		}
		return c.retry(ctx, StageForward, func() error { return c.sink.Forward(ctx, batch) })
	}
	return nil
}

func (c *Consumer) skip(r *kgo.Record, stage string, err error) {
	c.metrics.IncConsumerError(stage)
	level.Error(c.logger).Log("msg", "skipping record", "stage", stage,
		"partition", r.Partition, "offset", r.Offset,
		"category", errors.GetCategory(err), "code", errors.GetCode(err), "err", err)
}

func (c *Consumer) retry(ctx context.Context, stage string, fn func() error) error {
	boff := backoff.New(ctx, c.cfg.Backoff)
	var err error
	for boff.Ongoing() {
		if err = fn(); err == nil {
			return nil
		}
		c.metrics.IncConsumerError(stage)
		if !errors.IsRetryable(err) {
			return err
		}
		level.Warn(c.logger).Log("msg", "retrying", "stage", stage, "attempt", boff.NumRetries()+1, "err", err)
		boff.Wait()
	}
	if err == nil {
		err = boff.Err()
	}
	return fmt.Errorf("consumer: %s failed after %d retries: %w", stage, boff.NumRetries(), err)
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}

func collectFetchErrs(fetches kgo.Fetches) error {
	mErr := multierror.New()
	fetches.EachError(func(topic string, partition int32, err error) {
		mErr.Add(fmt.Errorf("%s/%d: %w", topic, partition, err))
	})
	return mErr.Err()
}
