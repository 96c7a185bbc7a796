// Package lambda wires the serverless reaper: the same ledger and reaper
// used by the HTTP service, configured from the function's environment.
package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/feedrun/internal/alert"
	"github.com/dwsmith1983/feedrun/internal/config"
	"github.com/dwsmith1983/feedrun/internal/logging"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/internal/provider/dynamodb"
	"github.com/dwsmith1983/feedrun/internal/reaper"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	Ledger  provider.Provider
	Reaper  *reaper.Reaper
	AlertFn func(context.Context, types.Alert)
	Logger  *slog.Logger
}

// Settings is the environment-derived part of Deps.
type Settings struct {
	Region   string
	EventBus string
	LogLevel string

	// StuckTimeout is parsed with config.Duration; bad values fall back to
	// reaper.DefaultStuckTimeout.
	StuckTimeout string
}

// Init creates shared dependencies from environment variables.
// Reads: TABLE_NAME, AWS_REGION, STUCK_TIMEOUT, EVENT_BUS_NAME, RETENTION_TTL, LOG_LEVEL
func Init(ctx context.Context) (*Deps, error) {
	tableName := os.Getenv("TABLE_NAME")
	region := os.Getenv("AWS_REGION")
	if tableName == "" {
		return nil, fmt.Errorf("TABLE_NAME environment variable required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS_REGION environment variable required")
	}

	prov, err := dynamodb.New(&dynamodb.Config{
		TableName:    tableName,
		Region:       region,
		RetentionTTL: envOrDefault("RETENTION_TTL", "720h"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating DynamoDB provider: %w", err)
	}

	return Build(ctx, prov, Settings{
		Region:       region,
		EventBus:     os.Getenv("EVENT_BUS_NAME"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		StuckTimeout: envOrDefault("STUCK_TIMEOUT", reaper.DefaultStuckTimeout.String()),
	})
}

// Build assembles Deps over an existing ledger. Extra options are passed to
// the EventBridge sink when s.EventBus is set.
func Build(_ context.Context, ledger provider.Provider, s Settings, opts ...alert.EventBridgeOption) (*Deps, error) {
	logger := logging.New(s.LogLevel, "json")

	dispatcher, err := alert.NewDispatcher(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("creating alert dispatcher: %w", err)
	}
	if s.EventBus != "" {
		if s.Region != "" {
			opts = append([]alert.EventBridgeOption{alert.WithEventBridgeRegion(s.Region)}, opts...)
		}
		sink, err := alert.NewEventBridgeSink(s.EventBus, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating EventBridge sink: %w", err)
		}
		dispatcher.AddSink(sink)
	} else {
		dispatcher.AddSink(alert.NewConsoleSink())
	}
	alertFn := dispatcher.AlertFunc()

	timeout := config.Duration(s.StuckTimeout, reaper.DefaultStuckTimeout)
	r := reaper.New(ledger, timeout, reaper.WithAlert(alertFn), reaper.WithLogger(logger))

	return &Deps{
		Ledger:  ledger,
		Reaper:  r,
		AlertFn: alertFn,
		Logger:  logger,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
