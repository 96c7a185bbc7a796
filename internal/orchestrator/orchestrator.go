// Package orchestrator owns the ingestion run state machine: it accepts
// triggers under the single-flight guard, drives each run through its
// phases in a background task, and answers status reads.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/feedrun/internal/coordinator"
	"github.com/dwsmith1983/feedrun/internal/fetcher"
	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/internal/reaper"
	"github.com/dwsmith1983/feedrun/internal/sink"
	"github.com/dwsmith1983/feedrun/internal/sources"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// finalWriteTimeout bounds the terminal ledger write, which runs on a
// context detached from the run's own.
const finalWriteTimeout = 10 * time.Second

// Config tunes run execution. Zero fields take defaults.
type Config struct {
	Concurrency              int
	FetchTimeout             time.Duration
	StuckTimeout             time.Duration
	BatchSize                int
	DefaultTimeWindowHours   int
	DefaultMaxItemsPerSource int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = coordinator.DefaultConcurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = coordinator.DefaultFetchTimeout
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = reaper.DefaultStuckTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = sink.DefaultBatchSize
	}
	if c.DefaultTimeWindowHours == 0 {
		c.DefaultTimeWindowHours = DefaultTimeWindowHours
	}
	if c.DefaultMaxItemsPerSource == 0 {
		c.DefaultMaxItemsPerSource = DefaultMaxItemsPerSource
	}
}

// Deps are the collaborators of an Orchestrator. Authors and AlertFn are
// optional.
type Deps struct {
	Ledger   provider.RunLedger
	Sources  sources.Provider
	Fetcher  fetcher.Fetcher
	Articles sink.ArticleSink
	Authors  sink.AuthorSink
	AlertFn  func(context.Context, types.Alert)
	Logger   *slog.Logger

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator runs ingestion. It is safe for concurrent use.
type Orchestrator struct {
	ledger   provider.RunLedger
	sources  sources.Provider
	coord    *coordinator.Coordinator
	articles sink.ArticleSink
	authors  sink.AuthorSink
	reaper   *reaper.Reaper
	alertFn  func(context.Context, types.Alert)
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
	config   Config

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closing bool
	wg      sync.WaitGroup
}

// New creates an orchestrator.
func New(deps Deps, config Config) (*Orchestrator, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("orchestrator: ledger is required")
	case deps.Sources == nil:
		return nil, errors.New("orchestrator: source provider is required")
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Articles == nil:
		return nil, errors.New("orchestrator: article sink is required")
	}
	config.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = NewRunID
	}

	o := &Orchestrator{
		ledger:   deps.Ledger,
		sources:  deps.Sources,
		articles: deps.Articles,
		authors:  deps.Authors,
		alertFn:  deps.AlertFn,
		logger:   logger,
		tracer:   otel.Tracer("github.com/dwsmith1983/feedrun/internal/orchestrator"),
		now:      now,
		newID:    newID,
		config:   config,
		cancels:  make(map[string]context.CancelFunc),
	}
	o.coord = coordinator.New(deps.Fetcher, coordinator.Config{
		Concurrency:  config.Concurrency,
		FetchTimeout: config.FetchTimeout,
	}, logger)
	o.reaper = reaper.New(deps.Ledger, config.StuckTimeout,
		reaper.WithClock(now),
		reaper.WithAlert(o.alert),
		reaper.WithLogger(logger),
	)
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	return o, nil
}

// NewRunID returns "run-" followed by a lowercase ULID.
func NewRunID() string {
	return "run-" + strings.ToLower(ulid.Make().String())
}

// Reaper returns the stuck-run reaper bound to this orchestrator's ledger.
func (o *Orchestrator) Reaper() *reaper.Reaper { return o.reaper }

// Ping checks the ledger when it supports it.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if p, ok := o.ledger.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// TriggerRun accepts a new run and starts it in the background. It returns
// as soon as the run is recorded. A busy guard yields *ConflictError.
func (o *Orchestrator) TriggerRun(ctx context.Context, req TriggerRequest) (*types.Run, error) {
	kind, cfg, err := o.resolve(req)
	if err != nil {
		return nil, err
	}

	// The slot is reserved under the same lock Shutdown uses to set
	// closing, so Shutdown waits for this trigger and the run it starts.
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: shutting down", ErrUnavailable)
	}
	o.wg.Add(1)
	o.mu.Unlock()
	started := false
	defer func() {
		if !started {
			o.wg.Done()
		}
	}()

	acq, err := o.reaper.CheckAndAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if acq.Busy {
		metrics.RunsConflicted.Inc()
		return nil, &ConflictError{ActiveRunID: acq.ActiveRunID}
	}

	run := lifecycle.NewRun(o.newID(), kind, cfg, o.now())
	if err := o.ledger.CreateRun(ctx, run); err != nil {
		if errors.Is(err, provider.ErrActiveRun) {
			// Lost a race with a concurrent trigger.
			metrics.RunsConflicted.Inc()
			conflict := &ConflictError{}
			if active, qerr := o.ledger.QueryActive(ctx); qerr == nil && active != nil {
				conflict.ActiveRunID = active.RunID
			}
			return nil, conflict
		}
		return nil, fmt.Errorf("%w: creating run: %v", ErrUnavailable, err)
	}

	metrics.RunsTriggered.WithLabelValues(string(kind)).Inc()
	o.logger.Info("ingestion run accepted", "run_id", run.RunID, "trigger", kind,
		"time_window_hours", cfg.TimeWindowHours, "max_items_per_source", cfg.MaxItemsPerSource)

	o.start(run)
	started = true
	out := run
	return &out, nil
}

// start runs the task in the background. The caller has already added it
// to o.wg.
func (o *Orchestrator) start(run types.Run) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.cancels[run.RunID] = cancel
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, run.RunID)
			o.mu.Unlock()
			cancel()
		}()
		o.runToCompletion(ctx, run)
	}()
}

// GetRunStatus reads a run, reaping it first if it is stale.
func (o *Orchestrator) GetRunStatus(ctx context.Context, runID string) (*types.Run, error) {
	run, err := o.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !o.reaper.IsStale(*run) {
		return run, nil
	}
	updated, _, err := o.reaper.ReapIfStale(ctx, run)
	if err != nil {
		o.logger.Warn("lazy reap failed", "run_id", runID, "error", err)
		return run, nil
	}
	return updated, nil
}

// CancelRun forces a non-terminal run to failed and stops its background
// task if it runs in this process.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) (*types.Run, error) {
	failed := types.RunFailed
	now := o.now()
	run, err := o.ledger.UpdateRun(ctx, runID, types.RunPatch{
		Status:       &failed,
		AppendErrors: []types.RunError{{Message: "cancelled by operator", Timestamp: now}},
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	cancel := o.cancels[runID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	metrics.RunsFinished.WithLabelValues(string(types.RunFailed)).Inc()
	o.logger.Warn("ingestion run cancelled", "run_id", runID)
	o.alert(ctx, types.Alert{
		Level:     types.AlertLevelWarning,
		Category:  "run_cancelled",
		RunID:     runID,
		Message:   fmt.Sprintf("Ingestion run %s cancelled by operator", runID),
		Timestamp: now,
	})
	return run, nil
}

// ListRuns returns up to limit recent runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	return o.ledger.ListRuns(ctx, limit)
}

// Wait blocks until every background run task has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting triggers and waits for running tasks. If ctx
// ends first, the tasks are cancelled, which fails their runs, and Shutdown
// waits for those final writes before returning ctx's error.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.baseCancel()
		return nil
	case <-ctx.Done():
		o.baseCancel()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) alert(ctx context.Context, a types.Alert) {
	if o.alertFn != nil {
		o.alertFn(ctx, a)
	}
}
