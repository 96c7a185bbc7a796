// Package memory implements the run ledger in process memory. It backs
// tests and single-node development; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*Provider)(nil)

// Provider is an in-memory run ledger.
type Provider struct {
	mu     sync.Mutex
	runs   map[string]types.Run
	active string
}

// New creates an empty in-memory ledger.
func New() *Provider {
	return &Provider{runs: make(map[string]types.Run)}
}

func (p *Provider) Start(_ context.Context) error { return nil }
func (p *Provider) Stop(_ context.Context) error  { return nil }
func (p *Provider) Ping(_ context.Context) error  { return nil }

// CreateRun stores run and claims the single-flight slot.
func (p *Provider) CreateRun(_ context.Context, run types.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != "" {
		return provider.ErrActiveRun
	}
	if _, ok := p.runs[run.RunID]; ok {
		return fmt.Errorf("%w: %s", provider.ErrRunExists, run.RunID)
	}
	p.runs[run.RunID] = copyRun(run)
	if lifecycle.IsActive(run.Status) {
		p.active = run.RunID
	}
	return nil
}

// UpdateRun applies patch to the stored run.
func (p *Provider) UpdateRun(_ context.Context, runID string, patch types.RunPatch) (*types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, ok := p.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	}
	run = copyRun(run)
	if err := lifecycle.Apply(&run, patch); err != nil {
		return nil, err
	}
	p.runs[runID] = run
	if lifecycle.IsTerminal(run.Status) && p.active == runID {
		p.active = ""
	}
	out := copyRun(run)
	return &out, nil
}

// GetRun returns a copy of the stored run.
func (p *Provider) GetRun(_ context.Context, runID string) (*types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, ok := p.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	}
	out := copyRun(run)
	return &out, nil
}

// QueryActive returns the run holding the single-flight slot.
func (p *Provider) QueryActive(_ context.Context) (*types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == "" {
		return nil, nil
	}
	run := copyRun(p.runs[p.active])
	return &run, nil
}

// ListRuns returns runs newest first.
func (p *Provider) ListRuns(_ context.Context, limit int) ([]types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runs := make([]types.Run, 0, len(p.runs))
	for _, r := range p.runs {
		runs = append(runs, copyRun(r))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].RunID > runs[j].RunID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// copyRun detaches the slices and pointers of a run from the stored copy.
func copyRun(r types.Run) types.Run {
	errs := make([]types.RunError, len(r.Errors))
	copy(errs, r.Errors)
	r.Errors = errs
	if r.CompletedAt != nil {
		c := *r.CompletedAt
		r.CompletedAt = &c
	}
	return r
}
