package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RunView is the polling representation of a run.
type RunView struct {
	types.Run
	// Errors shadows Run.Errors to append a "+N more errors" entry when the
	// stored list was capped.
	Errors          []types.RunError `json:"errors"`
	DurationSeconds float64          `json:"duration_seconds"`
	IsSuccessful    *bool            `json:"is_successful,omitempty"`
}

func (h *Handlers) view(run types.Run) RunView {
	ev := orchestrator.Evaluate(run, h.now())
	errs := make([]types.RunError, len(run.Errors), len(run.Errors)+1)
	copy(errs, run.Errors)
	if run.ErrorsOmitted > 0 {
		errs = append(errs, types.RunError{
			Message:   fmt.Sprintf("+%d more errors", run.ErrorsOmitted),
			Timestamp: run.LastUpdatedAt,
		})
	}
	return RunView{
		Run:             run,
		Errors:          errs,
		DurationSeconds: ev.DurationSeconds,
		IsSuccessful:    ev.IsSuccessful,
	}
}

func pollURL(runID string) string {
	return "/api/ingestion/" + runID
}

// TriggerIngestion accepts a new run. An empty body takes every default.
func (h *Handlers) TriggerIngestion(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	run, err := h.ingestion.TriggerRun(r.Context(), req)
	var conflict *orchestrator.ConflictError
	switch {
	case err == nil:
	case errors.As(err, &conflict):
		body := map[string]string{"error": "an ingestion run is already in progress"}
		if conflict.ActiveRunID != "" {
			body["active_run_id"] = conflict.ActiveRunID
			body["poll_url"] = pollURL(conflict.ActiveRunID)
		}
		h.writeJSON(w, http.StatusConflict, body)
		return
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, orchestrator.ErrUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "ingestion is temporarily unavailable", err)
		return
	default:
		h.writeError(w, http.StatusInternalServerError, "failed to start ingestion", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":   run.RunID,
		"status":   string(run.Status),
		"message":  "ingestion started",
		"poll_url": pollURL(run.RunID),
	})
}

// GetIngestion returns one run.
func (h *Handlers) GetIngestion(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.ingestion.GetRunStatus(r.Context(), runID)
	if errors.Is(err, provider.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(*run))
}

// ListIngestions returns recent runs, newest first.
func (h *Handlers) ListIngestions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	runs, err := h.ingestion.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, h.view(run))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": views})
}

// CancelIngestion forces a running run to failed.
func (h *Handlers) CancelIngestion(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.ingestion.CancelRun(r.Context(), runID)
	switch {
	case errors.Is(err, provider.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	case errors.Is(err, lifecycle.ErrRunTerminal):
		h.writeError(w, http.StatusConflict, "run already finished", nil)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "failed to cancel run", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(*run))
}
