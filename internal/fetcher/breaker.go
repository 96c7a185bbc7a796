package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds per-host circuit breaker settings.
type BreakerConfig struct {
	FailThreshold uint32        // consecutive failures before opening (default 5)
	Cooldown      time.Duration // how long to stay open before half-open (default 30s)
}

// DefaultBreakerConfig returns the default config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailThreshold: 5, Cooldown: 30 * time.Second}
}

// Breakers keeps one circuit breaker per source host. State persists across
// runs for the life of the process.
type Breakers struct {
	mu     sync.Mutex
	config BreakerConfig
	m      map[string]*gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewBreakers creates an empty breaker set.
func NewBreakers(config BreakerConfig) *Breakers {
	if config.FailThreshold == 0 {
		config.FailThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breakers{config: config, m: make(map[string]*gobreaker.CircuitBreaker), logger: slog.Default()}
}

func (b *Breakers) get(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.m[host]
	if ok {
		return cb
	}
	threshold := b.config.FailThreshold
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: b.config.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// A cancelled run says nothing about the host.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("source circuit changed", "host", name, "from", from.String(), "to", to.String())
		},
	})
	b.m[host] = cb
	return cb
}

// State returns the breaker state for host.
func (b *Breakers) State(host string) gobreaker.State {
	return b.get(host).State()
}

// Do runs fn under the breaker of rawURL's host.
func (b *Breakers) Do(rawURL string, fn func() (*Result, error)) (*Result, error) {
	if b == nil {
		return fn()
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	out, err := b.get(host).Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}
	if err != nil {
		return nil, err
	}
	return out.(*Result), nil
}
