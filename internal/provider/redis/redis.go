// Package redis implements the run ledger using Redis/Valkey.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/feedrun/internal/provider"
)

const defaultPrefix = "feedrun:"

// Compile-time interface satisfaction check.
var _ provider.Provider = (*RedisProvider)(nil)

// RedisProvider implements the run ledger backed by Redis/Valkey.
type RedisProvider struct {
	client       *goredis.Client
	prefix       string
	retentionTTL time.Duration
	createScript *goredis.Script
	casScript    *goredis.Script
	logger       *slog.Logger
}

// New creates a new RedisProvider.
func New(cfg *Config) (*RedisProvider, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	p := NewFromClient(client, cfg.KeyPrefix)
	if cfg.RetentionTTL != "" {
		ttl, err := time.ParseDuration(cfg.RetentionTTL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis retentionTtl: %w", err)
		}
		p.retentionTTL = ttl
	}
	return p, nil
}

// NewFromClient creates a RedisProvider from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisProvider{
		client:       client,
		prefix:       prefix,
		createScript: goredis.NewScript(createRunScript),
		casScript:    goredis.NewScript(compareAndSwapScript),
		logger:       slog.Default(),
	}
}

// Start initializes the provider connection.
func (p *RedisProvider) Start(ctx context.Context) error {
	return p.Ping(ctx)
}

// Stop closes the provider connection.
func (p *RedisProvider) Stop(_ context.Context) error {
	return p.client.Close()
}

// Ping checks connectivity to the Redis server.
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (p *RedisProvider) Client() *goredis.Client {
	return p.client
}

func (p *RedisProvider) runKey(runID string) string {
	return p.prefix + "run:" + runID
}

// runIndexKey is a sorted set of run ids scored by start time in ms.
func (p *RedisProvider) runIndexKey() string {
	return p.prefix + "runs"
}

// activeKey holds the id of the single non-terminal run.
func (p *RedisProvider) activeKey() string {
	return p.prefix + "active"
}
