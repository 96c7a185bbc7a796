// Package providertest provides shared conformance tests for provider.RunLedger
// implementations. Call RunAll from a test function to verify a ledger
// satisfies the full behavioral contract.
package providertest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// RunAll runs the complete ledger conformance suite as subtests. Subtests
// share the ledger and each one leaves no active run behind.
func RunAll(t *testing.T, ledger provider.RunLedger) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) { TestCreateGet(t, ledger) })
	t.Run("GetNotFound", func(t *testing.T) { TestGetNotFound(t, ledger) })
	t.Run("UpdateAppliesPatch", func(t *testing.T) { TestUpdateAppliesPatch(t, ledger) })
	t.Run("UpdateRejectsTerminal", func(t *testing.T) { TestUpdateRejectsTerminal(t, ledger) })
	t.Run("UpdateExpectVersion", func(t *testing.T) { TestUpdateExpectVersion(t, ledger) })
	t.Run("SingleFlight", func(t *testing.T) { TestSingleFlight(t, ledger) })
	t.Run("ConcurrentCreate", func(t *testing.T) { TestConcurrentCreate(t, ledger) })
	t.Run("DuplicateRunID", func(t *testing.T) { TestDuplicateRunID(t, ledger) })
	t.Run("ListNewestFirst", func(t *testing.T) { TestListNewestFirst(t, ledger) })
}

var seq atomic.Int64

// newRunID returns a run id unique within this test binary.
func newRunID(tag string) string {
	return fmt.Sprintf("ct-%s-%d-%d", tag, time.Now().UnixNano(), seq.Add(1))
}

func newRun(tag string, startedAt time.Time) types.Run {
	return lifecycle.NewRun(newRunID(tag), types.TriggerManual,
		types.RunConfig{TimeWindowHours: 24, MaxItemsPerSource: 50}, startedAt)
}

func statusPtr(s types.RunStatus) *types.RunStatus { return &s }
func phasePtr(p types.Phase) *types.Phase          { return &p }
