package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest wraps trigger parameter validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnavailable is returned when a trigger cannot even be accepted,
	// typically because the ledger is unreachable.
	ErrUnavailable = errors.New("ingestion unavailable")
)

// ConflictError reports that another run holds the single-flight slot.
type ConflictError struct {
	ActiveRunID string
}

func (e *ConflictError) Error() string {
	if e.ActiveRunID == "" {
		return "another ingestion run is already in progress"
	}
	return fmt.Sprintf("ingestion run %s is already in progress", e.ActiveRunID)
}

// phaseError aborts a run with a single summarizing error entry.
type phaseError struct {
	msg string
	err error
}

func (e *phaseError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *phaseError) Unwrap() error { return e.err }

// errStopped means the ledger reports the run terminal; someone else
// (the reaper or an operator) finalized it.
var errStopped = errors.New("run finalized elsewhere")
