// Package lifecycle implements the ingestion run state machine.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

// MaxErrors caps the stored error list of a run. Later errors are counted
// in Run.ErrorsOmitted.
const MaxErrors = 50

var (
	ErrRunTerminal       = errors.New("run is terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPhaseRegression   = errors.New("phase cannot regress")
	ErrStatsRegression   = errors.New("stats cannot decrease")
	ErrVersionMismatch   = errors.New("run version mismatch")
)

// Transition table: from -> allowed tos
var validTransitions = map[types.RunStatus][]types.RunStatus{
	types.RunAccepted:            {types.RunInitializing, types.RunFailed},
	types.RunInitializing:        {types.RunLoadingSources, types.RunFailed},
	types.RunLoadingSources:      {types.RunFetchingFeeds, types.RunFailed},
	types.RunFetchingFeeds:       {types.RunStoringArticles, types.RunFailed},
	types.RunStoringArticles:     {types.RunUpsertingAuthors, types.RunFailed},
	types.RunUpsertingAuthors:    {types.RunCompleted, types.RunCompletedWithErrors, types.RunFailed},
	types.RunCompleted:           {},
	types.RunCompletedWithErrors: {},
	types.RunFailed:              {},
}

var phaseOrder = map[types.Phase]int{
	types.PhaseInitializing:     0,
	types.PhaseLoadingSources:   1,
	types.PhaseFetchingFeeds:    2,
	types.PhaseStoringArticles:  3,
	types.PhaseUpsertingAuthors: 4,
	types.PhaseDone:             5,
}

// CanTransition checks if transitioning from one run status to another is valid.
func CanTransition(from, to types.RunStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the status change, returning an error wrapping
// ErrInvalidTransition if it is not allowed.
func Transition(from, to types.RunStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.RunStatus) bool {
	return status == types.RunCompleted || status == types.RunCompletedWithErrors || status == types.RunFailed
}

// IsActive returns true for every known non-terminal status.
func IsActive(status types.RunStatus) bool {
	_, known := validTransitions[status]
	return known && !IsTerminal(status)
}

// CanAdvance reports whether a run may move from one phase to another:
// stay put, step forward by one, or jump to done.
func CanAdvance(from, to types.Phase) bool {
	fi, ok := phaseOrder[from]
	if !ok {
		return false
	}
	ti, ok := phaseOrder[to]
	if !ok {
		return false
	}
	if from == types.PhaseDone {
		return to == types.PhaseDone
	}
	return ti == fi || ti == fi+1 || to == types.PhaseDone
}

// StatusForPhase returns the active status that mirrors a running phase.
func StatusForPhase(p types.Phase) types.RunStatus {
	return types.RunStatus(p)
}

// Apply validates patch against run and mutates run in place. It is the
// single update path shared by every ledger store.
func Apply(run *types.Run, patch types.RunPatch) error {
	if IsTerminal(run.Status) {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, run.RunID, run.Status)
	}
	if patch.ExpectVersion != 0 && patch.ExpectVersion != run.Version {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionMismatch, run.Version, patch.ExpectVersion)
	}

	status := run.Status
	if patch.Status != nil && *patch.Status != run.Status {
		if err := Transition(run.Status, *patch.Status); err != nil {
			return err
		}
		status = *patch.Status
	}

	phase := run.Phase
	if patch.Phase != nil {
		phase = *patch.Phase
	}
	if IsTerminal(status) {
		phase = types.PhaseDone
	} else if phase == types.PhaseDone {
		return fmt.Errorf("%w: phase done requires a terminal status, got %s", ErrInvalidTransition, status)
	}
	if !CanAdvance(run.Phase, phase) {
		return fmt.Errorf("%w: from %s to %s", ErrPhaseRegression, run.Phase, phase)
	}

	if patch.Stats != nil {
		if err := checkStats(run.Stats, *patch.Stats); err != nil {
			return err
		}
		run.Stats = *patch.Stats
	}

	for _, e := range patch.AppendErrors {
		if len(run.Errors) < MaxErrors {
			run.Errors = append(run.Errors, e)
		} else {
			run.ErrorsOmitted++
		}
	}

	now := patch.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	run.Status = status
	run.Phase = phase
	run.LastUpdatedAt = now
	if IsTerminal(status) {
		completed := now
		run.CompletedAt = &completed
	} else {
		run.CompletedAt = nil
	}
	run.Version++
	return nil
}

func checkStats(old, next types.RunStats) error {
	pairs := []struct {
		name      string
		old, next int
	}{
		{"sources_checked", old.SourcesChecked, next.SourcesChecked},
		{"sources_failed", old.SourcesFailed, next.SourcesFailed},
		{"articles_fetched", old.ArticlesFetched, next.ArticlesFetched},
		{"articles_stored", old.ArticlesStored, next.ArticlesStored},
		{"articles_deduplicated", old.ArticlesDeduplicated, next.ArticlesDeduplicated},
		{"authors_upserted", old.AuthorsUpserted, next.AuthorsUpserted},
	}
	for _, p := range pairs {
		if p.next < p.old {
			return fmt.Errorf("%w: %s %d -> %d", ErrStatsRegression, p.name, p.old, p.next)
		}
	}
	return nil
}

// NewRun builds the initial ledger document for an accepted trigger.
func NewRun(runID string, trigger types.TriggerKind, cfg types.RunConfig, now time.Time) types.Run {
	return types.Run{
		RunID:         runID,
		Trigger:       trigger,
		Status:        types.RunAccepted,
		Phase:         types.PhaseInitializing,
		StartedAt:     now,
		LastUpdatedAt: now,
		Errors:        []types.RunError{},
		Config:        cfg,
		Version:       1,
	}
}
