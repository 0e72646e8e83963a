// Package main implements the colflat binary. It consumes event messages,
// flattens them into rows and serves the process and query API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arkilian/colflat/internal/app"
	"github.com/arkilian/colflat/internal/config"
	"github.com/arkilian/colflat/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		dataset     string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, consumer, http")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API listen address")
	flag.StringVar(&dataset, "dataset", "", "Dataset to write: events, errors")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "colflat - event row flattening and nested attribute query rewriting\n\n")
		fmt.Fprintf(os.Stderr, "Usage: colflat [options]\n\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables COLFLAT_* override the configuration file.\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("colflat version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if dataset != "" {
		cfg.Processor.Dataset = dataset
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger = log.With(logger, "version", version)

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "colflat exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return err
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		level.Warn(logger).Log("msg", "shutdown reported errors", "err", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	return application.Stop(stopCtx)
}

// loadConfig reads the configuration file when given, then applies
// environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
