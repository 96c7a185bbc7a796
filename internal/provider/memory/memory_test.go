package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider/providertest"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

func TestConformance(t *testing.T) {
	providertest.RunAll(t, New())
}

func TestGetRun_ReturnsDetachedCopy(t *testing.T) {
	ctx := context.Background()
	p := New()
	run := lifecycle.NewRun("run-copy", types.TriggerManual, types.RunConfig{TimeWindowHours: 1, MaxItemsPerSource: 1}, time.Now())
	require.NoError(t, p.CreateRun(ctx, run))

	got, err := p.GetRun(ctx, "run-copy")
	require.NoError(t, err)
	got.Errors = append(got.Errors, types.RunError{Message: "local edit"})
	got.Stats.SourcesChecked = 99

	again, err := p.GetRun(ctx, "run-copy")
	require.NoError(t, err)
	assert.Empty(t, again.Errors)
	assert.Equal(t, 0, again.Stats.SourcesChecked)
}

func TestListRuns_AllWhenLimitZero(t *testing.T) {
	ctx := context.Background()
	p := New()
	base := time.Unix(1000, 0)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := lifecycle.NewRun(id, types.TriggerManual, types.RunConfig{}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, p.CreateRun(ctx, run))
		failed := types.RunFailed
		_, err := p.UpdateRun(ctx, id, types.RunPatch{Status: &failed})
		require.NoError(t, err)
	}

	runs, err := p.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-a", runs[2].RunID)
}
