package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intlambda "github.com/dwsmith1983/feedrun/internal/lambda"
	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider/memory"
	"github.com/dwsmith1983/feedrun/internal/testutil"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

func buildDeps(t *testing.T, ledger *testutil.FlakyLedger) *intlambda.Deps {
	t.Helper()
	d, err := intlambda.Build(t.Context(), ledger, intlambda.Settings{LogLevel: "error"})
	require.NoError(t, err)
	return d
}

func TestScan_NoActiveRun(t *testing.T) {
	d := buildDeps(t, testutil.NewFlakyLedger(memory.New()))

	res, err := scan(t.Context(), d)
	require.NoError(t, err)
	assert.False(t, res.Reaped)
}

func TestScan_ReapsStaleRun(t *testing.T) {
	inner := memory.New()
	run := lifecycle.NewRun("run-old", types.TriggerScheduled, types.RunConfig{TimeWindowHours: 24, MaxItemsPerSource: 50}, time.Now().Add(-time.Hour))
	require.NoError(t, inner.CreateRun(context.Background(), run))
	d := buildDeps(t, testutil.NewFlakyLedger(inner))

	res, err := scan(t.Context(), d)
	require.NoError(t, err)
	assert.True(t, res.Reaped)
	assert.Equal(t, "run-old", res.RunID)

	stored, err := inner.GetRun(context.Background(), "run-old")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, stored.Status)
}

func TestScan_LedgerError(t *testing.T) {
	ledger := testutil.NewFlakyLedger(memory.New())
	ledger.ActiveErr = func() error { return errors.New("throttled") }
	d := buildDeps(t, ledger)

	_, err := scan(t.Context(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestGetDeps_RequiresEnv(t *testing.T) {
	t.Setenv("TABLE_NAME", "")
	t.Setenv("AWS_REGION", "")

	_, err := handler(t.Context())
	require.Error(t, err)
}
