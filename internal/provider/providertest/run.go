package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// finish drives a run to failed so it releases the single-flight slot.
func finish(t *testing.T, ledger provider.RunLedger, runID string) {
	t.Helper()
	_, err := ledger.UpdateRun(context.Background(), runID, types.RunPatch{
		Status:    statusPtr(types.RunFailed),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
}

// TestCreateGet verifies a created run reads back intact.
func TestCreateGet(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	run := newRun("cg", time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, ledger.CreateRun(ctx, run))
	defer finish(t, ledger, run.RunID)

	got, err := ledger.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, types.RunAccepted, got.Status)
	assert.Equal(t, types.PhaseInitializing, got.Phase)
	assert.Equal(t, 24, got.Config.TimeWindowHours)
	assert.Equal(t, 50, got.Config.MaxItemsPerSource)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 1, got.Version)
}

// TestGetNotFound verifies unknown ids map to provider.ErrNotFound.
func TestGetNotFound(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	_, err := ledger.GetRun(ctx, "ct-does-not-exist")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	_, err = ledger.UpdateRun(ctx, "ct-does-not-exist", types.RunPatch{UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

// TestUpdateAppliesPatch verifies partial updates accumulate.
func TestUpdateAppliesPatch(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	run := newRun("up", time.Now())
	require.NoError(t, ledger.CreateRun(ctx, run))

	_, err := ledger.UpdateRun(ctx, run.RunID, types.RunPatch{Status: statusPtr(types.RunInitializing), UpdatedAt: time.Now()})
	require.NoError(t, err)
	_, err = ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Status:    statusPtr(types.RunLoadingSources),
		Phase:     phasePtr(types.PhaseLoadingSources),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	got, err := ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Status:       statusPtr(types.RunFetchingFeeds),
		Phase:        phasePtr(types.PhaseFetchingFeeds),
		Stats:        &types.RunStats{SourcesChecked: 2, SourcesFailed: 1, ArticlesFetched: 7},
		AppendErrors: []types.RunError{{SourceID: "src-a", Message: "timeout", Timestamp: time.Now()}},
		UpdatedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Version)

	read, err := ledger.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFetchingFeeds, read.Status)
	assert.Equal(t, types.PhaseFetchingFeeds, read.Phase)
	assert.Equal(t, 2, read.Stats.SourcesChecked)
	assert.Equal(t, 7, read.Stats.ArticlesFetched)
	require.Len(t, read.Errors, 1)
	assert.Equal(t, "src-a", read.Errors[0].SourceID)

	_, err = ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Stats:     &types.RunStats{SourcesChecked: 1},
		UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, lifecycle.ErrStatsRegression)

	finish(t, ledger, run.RunID)
	final, err := ledger.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDone, final.Phase)
	assert.NotNil(t, final.CompletedAt)
}

// TestUpdateRejectsTerminal verifies terminal runs are immutable.
func TestUpdateRejectsTerminal(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	run := newRun("term", time.Now())
	require.NoError(t, ledger.CreateRun(ctx, run))
	finish(t, ledger, run.RunID)

	_, err := ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Stats:     &types.RunStats{SourcesChecked: 5},
		UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, lifecycle.ErrRunTerminal)
}

// TestUpdateExpectVersion verifies conditional updates.
func TestUpdateExpectVersion(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	run := newRun("ver", time.Now())
	require.NoError(t, ledger.CreateRun(ctx, run))
	defer finish(t, ledger, run.RunID)

	_, err := ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Status:        statusPtr(types.RunInitializing),
		ExpectVersion: 9,
		UpdatedAt:     time.Now(),
	})
	assert.ErrorIs(t, err, lifecycle.ErrVersionMismatch)

	got, err := ledger.UpdateRun(ctx, run.RunID, types.RunPatch{
		Status:        statusPtr(types.RunInitializing),
		ExpectVersion: 1,
		UpdatedAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

// TestListNewestFirst verifies ordering and limit.
func TestListNewestFirst(t *testing.T, ledger provider.RunLedger) {
	ctx := context.Background()
	base := time.Now().Add(time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		run := newRun("list", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, ledger.CreateRun(ctx, run))
		finish(t, ledger, run.RunID)
		ids = append(ids, run.RunID)
	}

	runs, err := ledger.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[1], runs[1].RunID)
}
