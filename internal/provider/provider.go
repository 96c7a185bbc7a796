// Package provider defines the run ledger storage interface.
package provider

import (
	"context"
	"errors"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

var (
	// ErrNotFound is returned when a run id is unknown to the ledger.
	ErrNotFound = errors.New("run not found")
	// ErrActiveRun is returned by CreateRun when another run holds the
	// single-flight slot.
	ErrActiveRun = errors.New("another run is active")
	// ErrRunExists is returned by CreateRun on a duplicate run id.
	ErrRunExists = errors.New("run already exists")
)

// RunLedger is the durable record of run lifecycles.
type RunLedger interface {
	// CreateRun stores a new active run. It fails with ErrActiveRun when
	// another non-terminal run exists.
	CreateRun(ctx context.Context, run types.Run) error
	// UpdateRun applies a partial update through lifecycle.Apply and returns
	// the stored result. A terminal update releases the single-flight slot.
	UpdateRun(ctx context.Context, runID string, patch types.RunPatch) (*types.Run, error)
	GetRun(ctx context.Context, runID string) (*types.Run, error)
	// QueryActive returns the non-terminal run, or nil when none exists.
	QueryActive(ctx context.Context) (*types.Run, error)
	// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]types.Run, error)
}

// Provider is a RunLedger with connection lifecycle.
type Provider interface {
	RunLedger

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
