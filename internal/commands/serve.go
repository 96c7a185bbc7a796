package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/feedrun/internal/alert"
	"github.com/dwsmith1983/feedrun/internal/archiver"
	"github.com/dwsmith1983/feedrun/internal/config"
	"github.com/dwsmith1983/feedrun/internal/logging"
	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/internal/reaper"
	"github.com/dwsmith1983/feedrun/internal/server"
	"github.com/dwsmith1983/feedrun/internal/sources"
	"github.com/dwsmith1983/feedrun/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown, including in-flight runs.
const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the feedrun HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dir)
		},
	}
	cmd.Flags().StringVarP(&dir, "config-dir", "c", ".", "directory containing feedrun.yaml")
	return cmd
}

func runServe(dir string) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logger = logger.With("service", "feedrun")

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), providerStopTimeout)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// Ledger
	prov, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	stopProvider, err := startProvider(ctx, prov, logger)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Provider, err)
	}
	defer stopProvider()

	// Sinks
	sk, err := newSinks(ctx, cfg.Sink)
	if err != nil {
		return err
	}
	defer sk.close()

	f, err := newFetcher(cfg.Ingestion)
	if err != nil {
		return err
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("closing alert sinks", "error", err)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Deps{
		Ledger:   prov,
		Sources:  sources.NewFile(cfg.Sources.Path),
		Fetcher:  f,
		Articles: sk.articles,
		Authors:  sk.authors,
		AlertFn:  dispatcher.AlertFunc(),
		Logger:   logger,
	}, orchestratorConfig(cfg.Ingestion))
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	srv := server.New(cfg.Server.Addr, orch, server.Options{
		APIKey:  cfg.Server.APIKey,
		MaxBody: cfg.Server.MaxRequestBody,
		Logger:  logger,
	})

	// Archiver
	var arc *archiver.Archiver
	if cfg.Archiver.Enabled {
		pg, err := openPostgres(ctx, cfg.Archiver.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		arc = archiver.New(prov, pg, config.Duration(cfg.Archiver.Interval, config.DefaultArchiveEvery), logger)
		arc.Start(ctx)
	}

	// Periodic reaper
	var loop *reaper.Loop
	if cfg.Reaper.Enabled {
		loop = reaper.NewLoop(orch.Reaper(), config.Duration(cfg.Reaper.Interval, config.DefaultReaperInterval))
		loop.Start(ctx)
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-errCh:
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs interrupted by shutdown", "error", err)
	}
	if loop != nil {
		loop.Stop(shutdownCtx)
	}
	if arc != nil {
		arc.Stop(shutdownCtx)
	}
	if serveErr != nil {
		return serveErr
	}
	color.Green("Server stopped gracefully")
	return nil
}
