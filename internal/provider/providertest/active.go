package providertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// TestSingleFlight verifies that only one non-terminal run exists at a time
// and that a terminal update frees the slot.
func TestSingleFlight(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()

	active, err := ledger.QueryActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	first := newRun("sf", time.Now())
	require.NoError(t, ledger.CreateRun(ctx, first))

	active, err = ledger.QueryActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.RunID, active.RunID)

	second := newRun("sf", time.Now())
	err = ledger.CreateRun(ctx, second)
	assert.ErrorIs(t, err, provider.ErrActiveRun)
	_, err = ledger.GetRun(ctx, second.RunID)
	assert.ErrorIs(t, err, provider.ErrNotFound, "rejected run must not be stored")

	finish(t, ledger, first.RunID)

	active, err = ledger.QueryActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, ledger.CreateRun(ctx, second))
	finish(t, ledger, second.RunID)
}

// TestConcurrentCreate verifies exactly one of many concurrent creates wins.
func TestConcurrentCreate(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	const attempts = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		others  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := newRun("cc", time.Now())
			err := ledger.CreateRun(ctx, run)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, run.RunID)
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	for _, err := range others {
		assert.True(t, errors.Is(err, provider.ErrActiveRun), "unexpected error: %v", err)
	}
	finish(t, ledger, winners[0])
}

// TestDuplicateRunID verifies a run id cannot be reused after it finishes.
func TestDuplicateRunID(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	run := newRun("dup", time.Now())
	require.NoError(t, ledger.CreateRun(ctx, run))
	finish(t, ledger, run.RunID)

	err := ledger.CreateRun(ctx, run)
	assert.ErrorIs(t, err, provider.ErrRunExists)

	got, err := ledger.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
}
