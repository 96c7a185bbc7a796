package lifecycle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.RunStatus
		to    types.RunStatus
		valid bool
	}{
		{types.RunAccepted, types.RunInitializing, true},
		{types.RunAccepted, types.RunFailed, true},
		{types.RunAccepted, types.RunFetchingFeeds, false},
		{types.RunInitializing, types.RunLoadingSources, true},
		{types.RunLoadingSources, types.RunFetchingFeeds, true},
		{types.RunLoadingSources, types.RunFailed, true},
		{types.RunFetchingFeeds, types.RunStoringArticles, true},
		{types.RunFetchingFeeds, types.RunCompleted, false},
		{types.RunStoringArticles, types.RunUpsertingAuthors, true},
		{types.RunUpsertingAuthors, types.RunCompleted, true},
		{types.RunUpsertingAuthors, types.RunCompletedWithErrors, true},
		{types.RunUpsertingAuthors, types.RunFetchingFeeds, false},
		{types.RunCompleted, types.RunFailed, false},
		{types.RunCompletedWithErrors, types.RunCompleted, false},
		{types.RunFailed, types.RunAccepted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.RunCompleted))
	assert.True(t, IsTerminal(types.RunCompletedWithErrors))
	assert.True(t, IsTerminal(types.RunFailed))
	assert.False(t, IsTerminal(types.RunAccepted))
	assert.False(t, IsTerminal(types.RunFetchingFeeds))

	assert.True(t, IsActive(types.RunAccepted))
	assert.True(t, IsActive(types.RunUpsertingAuthors))
	assert.False(t, IsActive(types.RunFailed))
	assert.False(t, IsActive(types.RunStatus("running")))
}

func TestCanAdvance(t *testing.T) {
	assert.True(t, CanAdvance(types.PhaseInitializing, types.PhaseInitializing))
	assert.True(t, CanAdvance(types.PhaseInitializing, types.PhaseLoadingSources))
	assert.True(t, CanAdvance(types.PhaseLoadingSources, types.PhaseDone))
	assert.False(t, CanAdvance(types.PhaseInitializing, types.PhaseFetchingFeeds))
	assert.False(t, CanAdvance(types.PhaseStoringArticles, types.PhaseFetchingFeeds))
	assert.False(t, CanAdvance(types.PhaseDone, types.PhaseUpsertingAuthors))
}

func status(s types.RunStatus) *types.RunStatus { return &s }
func phase(p types.Phase) *types.Phase          { return &p }

func newTestRun() types.Run {
	return NewRun("run-1", types.TriggerManual, types.RunConfig{TimeWindowHours: 24, MaxItemsPerSource: 50}, time.Unix(1000, 0))
}

func TestApply_AdvanceAndComplete(t *testing.T) {
	run := newTestRun()
	now := time.Unix(2000, 0)

	steps := []types.Phase{
		types.PhaseInitializing,
		types.PhaseLoadingSources,
		types.PhaseFetchingFeeds,
		types.PhaseStoringArticles,
		types.PhaseUpsertingAuthors,
	}
	for _, p := range steps {
		require.NoError(t, Apply(&run, types.RunPatch{
			Status:    status(StatusForPhase(p)),
			Phase:     phase(p),
			UpdatedAt: now,
		}))
		assert.Nil(t, run.CompletedAt)
	}

	require.NoError(t, Apply(&run, types.RunPatch{Status: status(types.RunCompleted), UpdatedAt: now}))
	assert.Equal(t, types.PhaseDone, run.Phase)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, now, *run.CompletedAt)
	assert.Equal(t, 7, run.Version)

	err := Apply(&run, types.RunPatch{Stats: &types.RunStats{SourcesChecked: 1}})
	assert.ErrorIs(t, err, ErrRunTerminal)
}

func TestApply_FailFromAnyPhaseJumpsToDone(t *testing.T) {
	run := newTestRun()
	require.NoError(t, Apply(&run, types.RunPatch{Status: status(types.RunInitializing)}))
	require.NoError(t, Apply(&run, types.RunPatch{Status: status(types.RunLoadingSources), Phase: phase(types.PhaseLoadingSources)}))

	require.NoError(t, Apply(&run, types.RunPatch{
		Status:       status(types.RunFailed),
		AppendErrors: []types.RunError{{Message: "loading sources: boom"}},
	}))
	assert.Equal(t, types.PhaseDone, run.Phase)
	assert.NotNil(t, run.CompletedAt)
	assert.Len(t, run.Errors, 1)
}

func TestApply_RejectsRegressions(t *testing.T) {
	run := newTestRun()
	require.NoError(t, Apply(&run, types.RunPatch{Status: status(types.RunInitializing)}))
	require.NoError(t, Apply(&run, types.RunPatch{Status: status(types.RunLoadingSources), Phase: phase(types.PhaseLoadingSources)}))
	require.NoError(t, Apply(&run, types.RunPatch{
		Status: status(types.RunFetchingFeeds),
		Phase:  phase(types.PhaseFetchingFeeds),
		Stats:  &types.RunStats{SourcesChecked: 3, ArticlesFetched: 30},
	}))

	before := run
	err := Apply(&run, types.RunPatch{Stats: &types.RunStats{SourcesChecked: 2, ArticlesFetched: 30}})
	assert.ErrorIs(t, err, ErrStatsRegression)

	err = Apply(&run, types.RunPatch{Phase: phase(types.PhaseLoadingSources)})
	assert.ErrorIs(t, err, ErrPhaseRegression)

	err = Apply(&run, types.RunPatch{Phase: phase(types.PhaseDone)})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, before.Version, run.Version, "rejected patches must not mutate the run")
	assert.Equal(t, 3, run.Stats.SourcesChecked)
}

func TestApply_ExpectVersion(t *testing.T) {
	run := newTestRun()
	err := Apply(&run, types.RunPatch{Status: status(types.RunFailed), ExpectVersion: 2})
	assert.ErrorIs(t, err, ErrVersionMismatch)

	require.NoError(t, Apply(&run, types.RunPatch{Status: status(types.RunFailed), ExpectVersion: 1}))
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestApply_CapsErrors(t *testing.T) {
	run := newTestRun()
	var errs []types.RunError
	for i := 0; i < MaxErrors+7; i++ {
		errs = append(errs, types.RunError{SourceID: fmt.Sprintf("s%d", i), Message: "down"})
	}
	require.NoError(t, Apply(&run, types.RunPatch{AppendErrors: errs[:10]}))
	require.NoError(t, Apply(&run, types.RunPatch{AppendErrors: errs[10:]}))

	assert.Len(t, run.Errors, MaxErrors)
	assert.Equal(t, 7, run.ErrorsOmitted)
	assert.Equal(t, "s0", run.Errors[0].SourceID)
	assert.Equal(t, fmt.Sprintf("s%d", MaxErrors-1), run.Errors[MaxErrors-1].SourceID)
}
