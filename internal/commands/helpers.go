// Package commands implements the CLI subcommands for the feedrun binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/dwsmith1983/feedrun/internal/config"
	"github.com/dwsmith1983/feedrun/internal/coordinator"
	"github.com/dwsmith1983/feedrun/internal/fetcher"
	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/internal/provider"
	ddbprov "github.com/dwsmith1983/feedrun/internal/provider/dynamodb"
	fsprov "github.com/dwsmith1983/feedrun/internal/provider/firestore"
	"github.com/dwsmith1983/feedrun/internal/provider/memory"
	pgstore "github.com/dwsmith1983/feedrun/internal/provider/postgres"
	"github.com/dwsmith1983/feedrun/internal/provider/redis"
	"github.com/dwsmith1983/feedrun/internal/reaper"
	"github.com/dwsmith1983/feedrun/internal/sink"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Environment fallbacks for the API client flags.
const (
	envServer = "FEEDRUN_SERVER"
	envAPIKey = "FEEDRUN_API_KEY"

	defaultServer = "http://localhost:8080"
)

// newProvider creates the configured run ledger.
func newProvider(cfg *types.ProjectConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		rc, ok := cfg.Redis.(*redis.Config)
		if !ok || rc == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		return redis.New(rc)
	case "dynamodb":
		dc, ok := cfg.DynamoDB.(*ddbprov.Config)
		if !ok || dc == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		return ddbprov.New(dc)
	case "firestore":
		fc, ok := cfg.Firestore.(*fsprov.Config)
		if !ok || fc == nil {
			return nil, fmt.Errorf("firestore config is required when provider is firestore")
		}
		return fsprov.New(fc)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// sinks bundles the article and author sinks and how to release them.
type sinks struct {
	articles sink.ArticleSink
	authors  sink.AuthorSink
	close    func()
}

// newSinks opens the configured sink backend. Postgres is migrated on open.
func newSinks(ctx context.Context, cfg *types.SinkConfig) (*sinks, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "memory" {
		return &sinks{
			articles: sink.NewMemoryArticles(),
			authors:  sink.NewMemoryAuthors(),
			close:    func() {},
		}, nil
	}
	if cfg.Type != "postgres" {
		return nil, fmt.Errorf("unsupported sink: %s", cfg.Type)
	}
	pg, err := openPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &sinks{articles: pg, authors: pg, close: pg.Close}, nil
}

func openPostgres(ctx context.Context, dsn string) (*pgstore.Store, error) {
	pg, err := pgstore.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to Postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrating Postgres: %w", err)
	}
	return pg, nil
}

// newFetcher builds the configured source fetcher with per-host breakers.
func newFetcher(cfg *types.IngestionConfig) (fetcher.Fetcher, error) {
	ua := fetcher.DefaultUserAgent
	kind := "feed"
	var toolURL string
	if cfg != nil {
		if cfg.UserAgent != "" {
			ua = cfg.UserAgent
		}
		if cfg.Fetcher != "" {
			kind = cfg.Fetcher
		}
		toolURL = cfg.ToolURL
	}
	client := &http.Client{}
	breakers := fetcher.NewBreakers(fetcher.DefaultBreakerConfig())

	switch kind {
	case "feed":
		return fetcher.NewFeed(client, ua, fetcher.WithBreakers(breakers)), nil
	case "tool":
		if toolURL == "" {
			return nil, fmt.Errorf("ingestion.toolUrl is required for the tool fetcher")
		}
		return fetcher.NewTool(client, toolURL, ua, breakers), nil
	default:
		return nil, fmt.Errorf("unsupported fetcher: %s", kind)
	}
}

// orchestratorConfig maps the ingestion section onto orchestrator.Config.
func orchestratorConfig(cfg *types.IngestionConfig) orchestrator.Config {
	if cfg == nil {
		return orchestrator.Config{}
	}
	return orchestrator.Config{
		Concurrency:              cfg.Concurrency,
		FetchTimeout:             config.Duration(cfg.FetchTimeout, coordinator.DefaultFetchTimeout),
		StuckTimeout:             config.Duration(cfg.StuckTimeout, reaper.DefaultStuckTimeout),
		BatchSize:                cfg.StoreBatchSize,
		DefaultTimeWindowHours:   cfg.DefaultTimeWindowHours,
		DefaultMaxItemsPerSource: cfg.DefaultMaxItemsPerSource,
	}
}

// providerStopTimeout bounds the deferred ledger close.
const providerStopTimeout = 5 * time.Second

// startProvider connects prov and returns a stop func for the caller to
// defer. It uses its own deadline so it still runs after shutdown has spent
// the caller's context.
func startProvider(ctx context.Context, prov provider.Provider, logger *slog.Logger) (func(), error) {
	if err := prov.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), providerStopTimeout)
		defer cancel()
		if err := prov.Stop(stopCtx); err != nil {
			logger.Warn("stopping provider", "error", err)
		}
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// statusColor picks the terminal color for a run status.
func statusColor(status types.RunStatus) *color.Color {
	switch status {
	case types.RunCompleted:
		return color.New(color.FgGreen)
	case types.RunCompletedWithErrors:
		return color.New(color.FgYellow)
	case types.RunFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func formatDuration(seconds float64) string {
	return (time.Duration(seconds * float64(time.Second))).Round(100 * time.Millisecond).String()
}
