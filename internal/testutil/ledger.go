package testutil

import (
	"context"
	"sync"

	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

var _ provider.Provider = (*FlakyLedger)(nil)

// FlakyLedger wraps a provider and injects failures. Hooks returning a
// non-nil error short-circuit the call.
type FlakyLedger struct {
	provider.Provider

	mu          sync.Mutex
	CreateErr   func(run types.Run) error
	UpdateErr   func(runID string, patch types.RunPatch) error
	GetErr      func(runID string) error
	ActiveErr   func() error
	PingErr     error
	updateCalls int
}

// NewFlakyLedger wraps inner.
func NewFlakyLedger(inner provider.Provider) *FlakyLedger {
	return &FlakyLedger{Provider: inner}
}

func (l *FlakyLedger) CreateRun(ctx context.Context, run types.Run) error {
	l.mu.Lock()
	hook := l.CreateErr
	l.mu.Unlock()
	if hook != nil {
		if err := hook(run); err != nil {
			return err
		}
	}
	return l.Provider.CreateRun(ctx, run)
}

func (l *FlakyLedger) UpdateRun(ctx context.Context, runID string, patch types.RunPatch) (*types.Run, error) {
	l.mu.Lock()
	l.updateCalls++
	hook := l.UpdateErr
	l.mu.Unlock()
	if hook != nil {
		if err := hook(runID, patch); err != nil {
			return nil, err
		}
	}
	return l.Provider.UpdateRun(ctx, runID, patch)
}

func (l *FlakyLedger) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	l.mu.Lock()
	hook := l.GetErr
	l.mu.Unlock()
	if hook != nil {
		if err := hook(runID); err != nil {
			return nil, err
		}
	}
	return l.Provider.GetRun(ctx, runID)
}

func (l *FlakyLedger) QueryActive(ctx context.Context) (*types.Run, error) {
	l.mu.Lock()
	hook := l.ActiveErr
	l.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return nil, err
		}
	}
	return l.Provider.QueryActive(ctx)
}

func (l *FlakyLedger) Ping(ctx context.Context) error {
	l.mu.Lock()
	err := l.PingErr
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return l.Provider.Ping(ctx)
}

// SetUpdateErr swaps the update hook under the lock.
func (l *FlakyLedger) SetUpdateErr(fn func(runID string, patch types.RunPatch) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.UpdateErr = fn
}

// UpdateCalls counts UpdateRun invocations.
func (l *FlakyLedger) UpdateCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateCalls
}

// SetPingErr swaps the ping error under the lock.
func (l *FlakyLedger) SetPingErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.PingErr = err
}
