// Package testutil provides shared test utilities for feedrun.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwsmith1983/feedrun/internal/fetcher"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

var _ fetcher.Fetcher = (*FakeFetcher)(nil)

// Response scripts what FakeFetcher does for one source id.
type Response struct {
	Items []types.Item
	Meta  *types.FeedMeta
	Err   error
	// Delay is slept before returning, honouring ctx.
	Delay time.Duration
	// Block waits for ctx to end and returns its error.
	Block bool
	// Stall is slept ignoring ctx, after which the response is returned
	// as if nothing happened.
	Stall time.Duration
	Panic interface{}
}

// FakeFetcher returns scripted responses keyed by source id. Unknown ids
// return an empty result.
type FakeFetcher struct {
	mu     sync.Mutex
	script map[string]Response
	calls  []string

	inFlight atomic.Int32
	peak     atomic.Int32

	// Gate, when set, is received from before any fetch proceeds.
	Gate chan struct{}
}

// NewFakeFetcher creates a fetcher driven by script.
func NewFakeFetcher(script map[string]Response) *FakeFetcher {
	if script == nil {
		script = map[string]Response{}
	}
	return &FakeFetcher{script: script}
}

// Set replaces the scripted response for id.
func (f *FakeFetcher) Set(id string, r Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[id] = r
}

func (f *FakeFetcher) Fetch(ctx context.Context, src types.Source, _ fetcher.Options) (*fetcher.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, src.ID)
	r := f.script[src.ID]
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Panic != nil {
		panic(r.Panic)
	}
	if r.Stall > 0 {
		time.Sleep(r.Stall)
	}
	if r.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	items := make([]types.Item, len(r.Items))
	for i, it := range r.Items {
		if it.SourceID == "" {
			it.SourceID = src.ID
		}
		items[i] = it
	}
	return &fetcher.Result{Items: items, Meta: r.Meta}, nil
}

// InFlight returns the number of Fetch calls that have not returned.
func (f *FakeFetcher) InFlight() int {
	return int(f.inFlight.Load())
}

// Calls returns the source ids fetched so far, in call order.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// PeakConcurrency is the largest number of simultaneous Fetch calls seen.
func (f *FakeFetcher) PeakConcurrency() int {
	return int(f.peak.Load())
}
