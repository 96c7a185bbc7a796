// Package coordinator fans a run's sources out to a fetcher with bounded
// concurrency and streams back one outcome per source.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/feedrun/internal/fetcher"
	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

const (
	DefaultConcurrency  = 10
	DefaultFetchTimeout = 30 * time.Second

	instrumentationName = "github.com/dwsmith1983/feedrun/internal/coordinator"
)

// Outcome is the result of fetching one source. Err is set on failure, in
// which case Result is nil.
type Outcome struct {
	Source   types.Source
	Result   *fetcher.Result
	Err      error
	Duration time.Duration
}

// Config bounds a fan-out.
type Config struct {
	Concurrency  int
	FetchTimeout time.Duration
}

// Coordinator runs fetches. It holds no per-run state and is safe for
// concurrent use.
type Coordinator struct {
	fetcher fetcher.Fetcher
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

// New creates a coordinator. Zero config fields take their defaults.
func New(f fetcher.Fetcher, config Config, logger *slog.Logger) *Coordinator {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	hist, err := otel.Meter(instrumentationName).Float64Histogram(
		"feedrun.fetch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Per-source fetch latency."),
	)
	if err != nil {
		logger.Warn("fetch latency histogram unavailable", "error", err)
	}
	return &Coordinator{
		fetcher: f,
		config:  config,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		latency: hist,
	}
}

// Fetch starts fetching sources and returns a channel yielding one Outcome
// per launched fetch in completion order. The channel is closed once every
// launched fetch has returned. Cancelling ctx stops new launches; sources
// not yet launched produce no outcome.
func (c *Coordinator) Fetch(ctx context.Context, sources []types.Source, opts fetcher.Options) <-chan Outcome {
	// Buffered to len(sources) so workers never block on a slow or departed
	// consumer.
	out := make(chan Outcome, len(sources))

	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(c.config.Concurrency)
		for _, src := range sources {
			if ctx.Err() != nil {
				break
			}
			src := src
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				out <- c.fetchOne(ctx, src, opts)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

type fetchResult struct {
	res *fetcher.Result
	err error
}

// fetchOne frees its pool slot at the deadline even when the fetcher ignores
// its context. A result arriving afterwards is discarded.
func (c *Coordinator) fetchOne(ctx context.Context, src types.Source, opts fetcher.Options) (o Outcome) {
	o.Source = src
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "fetch_source", trace.WithAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.url", src.URL),
	))
	fctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)

	defer func() {
		cancel()
		o.Duration = time.Since(start)
		c.record(ctx, span, o)
		span.End()
	}()

	if opts.RequestID != "" {
		opts.RequestID = opts.RequestID + "-" + src.ID
	}

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("fetcher panicked", "source_id", src.ID, "panic", r)
				done <- fetchResult{err: fmt.Errorf("fetcher panic: %v", r)}
			}
		}()
		res, err := c.fetcher.Fetch(fctx, src, opts)
		done <- fetchResult{res: res, err: err}
	}()

	var r fetchResult
	select {
	case r = <-done:
	case <-fctx.Done():
		r.err = fctx.Err()
	}

	if r.err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.err = fmt.Errorf("timed out after %s: %w", c.config.FetchTimeout, r.err)
		}
		o.Err = r.err
		return o
	}
	if r.res == nil {
		r.res = &fetcher.Result{}
	}
	o.Result = r.res
	return o
}

func (c *Coordinator) record(ctx context.Context, span trace.Span, o Outcome) {
	outcome := classify(o.Err)
	metrics.FetchesTotal.WithLabelValues(outcome).Inc()
	metrics.FetchDuration.Observe(o.Duration.Seconds())
	if c.latency != nil {
		c.latency.Record(ctx, o.Duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if o.Err != nil {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
		c.logger.Warn("source fetch failed", "source_id", o.Source.ID, "duration", o.Duration, "error", o.Err)
		return
	}
	span.SetAttributes(attribute.Int("items", len(o.Result.Items)))
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, fetcher.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}
