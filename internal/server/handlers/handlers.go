// Package handlers implements HTTP request handlers for the feedrun API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// Ingestion is the orchestrator surface the handlers need.
type Ingestion interface {
	TriggerRun(ctx context.Context, req orchestrator.TriggerRequest) (*types.Run, error)
	GetRunStatus(ctx context.Context, runID string) (*types.Run, error)
	ListRuns(ctx context.Context, limit int) ([]types.Run, error)
	CancelRun(ctx context.Context, runID string) (*types.Run, error)
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	ingestion Ingestion
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new Handlers instance.
func New(ing Ingestion) *Handlers {
	return &Handlers{
		ingestion: ing,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
