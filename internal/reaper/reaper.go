// Package reaper enforces single-flight over the run ledger and forces runs
// that stopped making progress to failed. A run is stale when nothing has
// touched its ledger document for longer than the stuck timeout.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// DefaultStuckTimeout is how long a run may go without a ledger update.
const DefaultStuckTimeout = 5 * time.Minute

// Acquisition is the result of CheckAndAcquire. When Busy is false the
// caller may create a run; a racing creator is still rejected by the
// ledger's conditional create.
type Acquisition struct {
	Busy        bool
	ActiveRunID string

	// Reaped is the run forced to failed on the way, if any.
	Reaped *types.Run
}

// Reaper inspects the active run.
type Reaper struct {
	ledger  provider.RunLedger
	timeout time.Duration
	now     func() time.Time
	alertFn func(context.Context, types.Alert)
	logger  *slog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// WithAlert sets the function called for every reaped run.
func WithAlert(fn func(context.Context, types.Alert)) Option {
	return func(r *Reaper) { r.alertFn = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// New creates a reaper. A non-positive timeout uses DefaultStuckTimeout.
func New(ledger provider.RunLedger, stuckTimeout time.Duration, opts ...Option) *Reaper {
	if stuckTimeout <= 0 {
		stuckTimeout = DefaultStuckTimeout
	}
	r := &Reaper{
		ledger:  ledger,
		timeout: stuckTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StuckTimeout returns the configured timeout.
func (r *Reaper) StuckTimeout() time.Duration { return r.timeout }

// IsStale reports whether run is non-terminal and has not been updated
// within the stuck timeout.
func (r *Reaper) IsStale(run types.Run) bool {
	if lifecycle.IsTerminal(run.Status) {
		return false
	}
	return r.now().Sub(run.LastUpdatedAt) > r.timeout
}

// CheckAndAcquire reports whether a new run may start. A stale active run is
// reaped first.
func (r *Reaper) CheckAndAcquire(ctx context.Context) (Acquisition, error) {
	active, err := r.ledger.QueryActive(ctx)
	if err != nil {
		return Acquisition{}, fmt.Errorf("querying active run: %w", err)
	}
	if active == nil {
		return Acquisition{}, nil
	}
	if !r.IsStale(*active) {
		return Acquisition{Busy: true, ActiveRunID: active.RunID}, nil
	}

	run, reaped, err := r.ReapIfStale(ctx, active)
	if err != nil {
		return Acquisition{}, err
	}
	if !reaped && !lifecycle.IsTerminal(run.Status) {
		// It made progress between the read and the forced write.
		return Acquisition{Busy: true, ActiveRunID: run.RunID}, nil
	}
	acq := Acquisition{}
	if reaped {
		acq.Reaped = run
	}
	return acq, nil
}

// ReapIfStale forces run to failed when it is stale. The write carries the
// observed version, so a run updated in the meantime is left alone. It
// returns the run as now stored and whether this call reaped it.
func (r *Reaper) ReapIfStale(ctx context.Context, run *types.Run) (*types.Run, bool, error) {
	if run == nil || !r.IsStale(*run) {
		return run, false, nil
	}

	now := r.now()
	idle := now.Sub(run.LastUpdatedAt).Truncate(time.Second)
	failed := types.RunFailed
	updated, err := r.ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Status: &failed,
		AppendErrors: []types.RunError{{
			Message:   fmt.Sprintf("run abandoned: no progress for %s during %s (stuck timeout %s)", idle, run.Phase, r.timeout),
			Timestamp: now,
		}},
		UpdatedAt:     now,
		ExpectVersion: run.Version,
	})
	if errors.Is(err, lifecycle.ErrVersionMismatch) || errors.Is(err, lifecycle.ErrRunTerminal) {
		fresh, gerr := r.ledger.GetRun(ctx, run.RunID)
		if gerr != nil {
			return nil, false, fmt.Errorf("re-reading run %s after lost reap: %w", run.RunID, gerr)
		}
		r.logger.Info("reap skipped, run changed", "run_id", run.RunID, "status", fresh.Status)
		return fresh, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reaping run %s: %w", run.RunID, err)
	}

	metrics.RunsReaped.Inc()
	r.logger.Warn("reaped stale run", "run_id", run.RunID, "phase", run.Phase, "idle", idle.String())
	if r.alertFn != nil {
		r.alertFn(ctx, types.Alert{
			Level:    types.AlertLevelError,
			Category: "run_reaped",
			RunID:    run.RunID,
			Message:  fmt.Sprintf("Ingestion run %s reaped after %s without progress in phase %s", run.RunID, idle, run.Phase),
			Details: map[string]interface{}{
				"phase":           string(run.Phase),
				"last_updated_at": run.LastUpdatedAt.Format(time.RFC3339),
				"idle":            idle.String(),
				"stuck_timeout":   r.timeout.String(),
			},
			Timestamp: now,
		})
	}
	return updated, true, nil
}

// Scan checks the active run once, reaping it if stale. It returns the
// reaped run or nil.
func (r *Reaper) Scan(ctx context.Context) (*types.Run, error) {
	active, err := r.ledger.QueryActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying active run: %w", err)
	}
	run, reaped, err := r.ReapIfStale(ctx, active)
	if err != nil || !reaped {
		return nil, err
	}
	return run, nil
}
