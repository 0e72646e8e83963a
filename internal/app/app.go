// Package app wires the colflat services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/plugin/kprom"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/arkilian/colflat/internal/api/http"
	"github.com/arkilian/colflat/internal/config"
	"github.com/arkilian/colflat/internal/consumer"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/processor"
	"github.com/arkilian/colflat/internal/query/planner"
	"github.com/arkilian/colflat/internal/replacer"
	"github.com/arkilian/colflat/internal/server"
	"github.com/arkilian/colflat/internal/storage"
	"github.com/arkilian/colflat/internal/store"
)

const (
	keyStatsWindow     = time.Hour
	spoolDrainInterval = 30 * time.Second
)

// App manages the lifecycle of the consumer and the HTTP API.
type App struct {
	cfg    *config.Config
	logger log.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	keyStats *observability.KeyStats
	shutdown *server.ShutdownManager

	archive  storage.ObjectStorage
	store    *store.Store
	proc     *processor.Processor
	planner  *planner.Planner
	spool    *replacer.Spool
	fallback *replacer.FallbackSink
	sink     replacer.Sink
	consumer *consumer.Consumer

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New validates cfg and creates the data directories.
func New(cfg *config.Config, logger log.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "failed to create directories")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		keyStats: observability.NewKeyStats(keyStatsWindow),
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig(), logger),
	}, nil
}

// Start initializes shared resources and starts the configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.group, ctx = errgroup.WithContext(ctx)

	if err := a.initSharedResources(ctx); err != nil {
		a.Stop(context.Background())
		return errors.Wrap(err, "failed to initialize shared resources")
	}

	if a.cfg.ShouldRunHTTP() {
		if err := a.startHTTP(); err != nil {
			a.Stop(context.Background())
			return errors.Wrap(err, "failed to start http api")
		}
	}
	if a.cfg.ShouldRunConsumer() {
		if err := a.startConsumer(ctx); err != nil {
			a.Stop(context.Background())
			return errors.Wrap(err, "failed to start consumer")
		}
	}
	if a.fallback != nil {
		a.group.Go(func() error {
			a.drainSpool(ctx)
			return nil
		})
	}

	level.Info(a.logger).Log("msg", "colflat started", "mode", a.cfg.Mode, "dataset", a.cfg.Processor.Dataset)
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.archive, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		s3Cfg.Prefix = a.cfg.Storage.S3.Prefix
		a.archive, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	}
	if err != nil {
		return errors.Wrap(err, "failed to initialize segment archive")
	}
	level.Info(a.logger).Log("msg", "segment archive initialized", "type", a.cfg.Storage.Type)

	dataset, err := newDataset(a.cfg.Processor.Dataset)
	if err != nil {
		return err
	}
	a.proc = processor.New(dataset,
		processor.WithRetention(&processor.Retention{
			Default:       a.cfg.Processor.DefaultRetentionDays,
			Overrides:     a.cfg.Processor.RetentionOverrides,
			KeepOldEvents: a.cfg.Processor.KeepOldEvents,
		}),
		processor.WithStacktraceDenylist(processor.NewProjectSet(a.cfg.Processor.StacktraceDenylist...)),
		processor.WithLogger(a.logger),
		processor.WithMetrics(a.metrics),
	)
	a.planner = planner.NewPlanner(dataset.Schema(),
		planner.NewNestedRewriter(dataset.Families(), dataset.Schema(),
			planner.WithRewriteMetrics(a.metrics),
			planner.WithKeyStats(a.keyStats),
		),
	)

	storeCfg := store.Config{
		Dir:               a.cfg.Store.Dir,
		MaxRowsPerSegment: a.cfg.Store.MaxRowsPerSegment,
		ArchivePrefix:     a.cfg.Store.ArchivePrefix,
		Logger:            a.logger,
		Metrics:           a.metrics,
	}
	if a.archive != nil {
		storeCfg.Archive = a.archive
	}
	a.store, err = store.Open(ctx, dataset.Schema(), storeCfg)
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser("store", server.CloserFunc(a.closeStore))

	a.spool, err = replacer.OpenSpool(a.cfg.Spool.Dir, a.cfg.Spool.MaxSegmentBytes, a.logger, a.metrics)
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser("spool", a.spool)
	a.sink = a.spool

	if a.cfg.Kafka.ReplacementsTopic != "" {
		kafkaSink, err := replacer.NewKafkaSink(replacer.KafkaConfig{
			Brokers:    a.cfg.Kafka.Brokers,
			Topic:      a.cfg.Kafka.ReplacementsTopic,
			Partitions: a.cfg.Kafka.ReplacementPartitions,
		}, a.logger, a.metrics, kprom.NewMetrics("colflat",
			kprom.Subsystem("replacer"),
			kprom.Registerer(a.registry),
		))
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser("replacements producer", server.CloserFunc(func() error {
			kafkaSink.Close()
			return nil
		}))
		a.fallback = &replacer.FallbackSink{Primary: kafkaSink, Spool: a.spool, Logger: a.logger}
		a.sink = a.fallback
	}
	return nil
}

func newDataset(name string) (processor.Dataset, error) {
	switch name {
	case config.DatasetEvents:
		return processor.NewEvents(), nil
	case config.DatasetErrors:
		return processor.NewErrors(), nil
	}
	return nil, fmt.Errorf("unknown dataset %q", name)
}

func (a *App) closeStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := a.store.Seal(ctx); err != nil {
		level.Warn(a.logger).Log("msg", "failed to seal pending rows on shutdown", "err", err)
	}
	return a.store.Close()
}

func (a *App) startHTTP() error {
	router := httpapi.NewRouter(httpapi.Config{
		Datasets: map[string]*httpapi.Dataset{
			a.cfg.Processor.Dataset: {Processor: a.proc, Planner: a.planner, Store: a.store},
		},
		DefaultDataset: a.cfg.Processor.Dataset,
		Sink:           a.sink,
		KeyStats:       a.keyStats,
		Gatherer:       a.registry,
		Shutdown:       a.shutdown,
		Logger:         a.logger,
	})

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http server", &server.HTTPServerCloser{Server: a.httpServer})

	a.group.Go(func() error {
		level.Info(a.logger).Log("msg", "http api listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			level.Error(a.logger).Log("msg", "http server failed", "err", err)
			go a.shutdown.Shutdown(context.Background(), "http server failed")
			return err
		}
		return nil
	})
	return nil
}

func (a *App) startConsumer(ctx context.Context) error {
	c, err := consumer.New(consumer.Config{
		Brokers:        a.cfg.Kafka.Brokers,
		Topic:          a.cfg.Kafka.Topic,
		ConsumerGroup:  a.cfg.Kafka.ConsumerGroup,
		MaxPollRecords: a.cfg.Kafka.MaxPollRecords,
	}, a.proc, a.store, a.sink, a.logger, a.metrics, kprom.NewMetrics("colflat",
		kprom.Subsystem("consumer"),
		kprom.Registerer(a.registry),
	))
	if err != nil {
		return err
	}
	a.consumer = c
	// Registered last so it stops before the store and the sinks close.
	a.shutdown.RegisterCloser("consumer", server.CloserFunc(func() error {
		c.Close()
		return nil
	}))

	a.group.Go(func() error {
		if err := c.Run(ctx); err != nil {
			level.Error(a.logger).Log("msg", "consumer failed", "err", err)
			go a.shutdown.Shutdown(context.Background(), "consumer failed")
			return err
		}
		return nil
	})
	return nil
}

func (a *App) drainSpool(ctx context.Context) {
	ticker := time.NewTicker(spoolDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.fallback.Drain(ctx); err != nil {
				level.Warn(a.logger).Log("msg", "spool drain stopped", "replayed", n, "err", err)
			}
		}
	}
}

// Addr returns the address the HTTP API listens on, or "" when it is not
// running.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop cancels the background services and closes every resource.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan error, 1)
	go func() { done <- a.group.Wait() }()
	select {
	case runErr := <-done:
		if err == nil {
			err = runErr
		}
	case <-ctx.Done():
		level.Warn(a.logger).Log("msg", "shutdown timeout, some services may not have finished")
	}

	level.Info(a.logger).Log("msg", "colflat stopped")
	return err
}

// WaitForShutdown blocks until a signal arrives, ctx is cancelled or a
// service fails.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
