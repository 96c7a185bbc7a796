package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForRunStatus polls until the run has the given status.
func WaitForRunStatus(t *testing.T, ledger provider.RunLedger, runID string, status types.RunStatus, timeout time.Duration) types.Run {
	t.Helper()
	var run types.Run
	WaitFor(t, timeout, func() bool {
		got, err := ledger.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = *got
		return run.Status == status
	}, "run "+runID+" with status "+string(status))
	return run
}

// WaitForTerminal polls until the run reaches any terminal status.
func WaitForTerminal(t *testing.T, ledger provider.RunLedger, runID string, timeout time.Duration) types.Run {
	t.Helper()
	var run types.Run
	WaitFor(t, timeout, func() bool {
		got, err := ledger.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = *got
		return lifecycle.IsTerminal(run.Status)
	}, "run "+runID+" terminal")
	return run
}
