// Package client is a Go client for the feedrun ingestion API. Wait
// implements the polling contract: fixed-interval polls until the run is
// terminal, with a client-side abandonment window that does not depend on
// the server's reaper.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/internal/server/handlers"
)

// Polling defaults.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultAbandonAfter = 5 * time.Minute
)

// ErrAbandoned is returned by Wait when the run has not finished within the
// abandonment window.
var ErrAbandoned = errors.New("run abandoned by client")

// TriggerResult is the body of an accepted trigger.
type TriggerResult struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	PollURL string `json:"poll_url"`
}

// Client talks to one feedrun server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey sends key as X-API-Key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Trigger starts a run. A busy server yields *orchestrator.ConflictError.
func (c *Client) Trigger(ctx context.Context, req orchestrator.TriggerRequest) (*TriggerResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding trigger request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/ingestion", body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var out TriggerResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding trigger response: %w", err)
		}
		return &out, nil
	case http.StatusConflict:
		var out struct {
			ActiveRunID string `json:"active_run_id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return nil, &orchestrator.ConflictError{ActiveRunID: out.ActiveRunID}
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrInvalidRequest, errorMessage(resp.Body))
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnavailable, errorMessage(resp.Body))
	default:
		return nil, statusError(resp)
	}
}

// Get reads one run.
func (c *Client) Get(ctx context.Context, runID string) (*handlers.RunView, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/ingestion/"+runID, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeRun(resp, runID)
}

// Cancel forces a running run to failed.
func (c *Client) Cancel(ctx context.Context, runID string) (*handlers.RunView, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/ingestion/"+runID+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrRunTerminal, runID)
	}
	return decodeRun(resp, runID)
}

// List returns up to limit recent runs.
func (c *Client) List(ctx context.Context, limit int) ([]handlers.RunView, error) {
	path := "/api/ingestion"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out struct {
		Runs []handlers.RunView `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding run list: %w", err)
	}
	return out.Runs, nil
}

// PollOptions tunes Wait. Zero fields take defaults.
type PollOptions struct {
	Interval time.Duration
	// Abandon is measured from the start of Wait.
	Abandon time.Duration
	// OnUpdate, if set, sees every successful poll.
	OnUpdate func(*handlers.RunView)
}

// Wait polls runID until it is terminal. Transient read errors are retried
// until the abandonment window passes; NotFound ends the wait at once.
func (c *Client) Wait(ctx context.Context, runID string, opts PollOptions) (*handlers.RunView, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Abandon <= 0 {
		opts.Abandon = DefaultAbandonAfter
	}
	deadline := c.now().Add(opts.Abandon)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last *handlers.RunView
	var lastErr error
	for {
		run, err := c.Get(ctx, runID)
		switch {
		case errors.Is(err, provider.ErrNotFound):
			return nil, err
		case err != nil:
			lastErr = err
		default:
			last, lastErr = run, nil
			if opts.OnUpdate != nil {
				opts.OnUpdate(run)
			}
			if lifecycle.IsTerminal(run.Status) {
				return run, nil
			}
		}

		if !c.now().Before(deadline) {
			if lastErr != nil {
				return last, fmt.Errorf("%w after %s: %v", ErrAbandoned, opts.Abandon, lastErr)
			}
			return last, fmt.Errorf("%w after %s: last status %s", ErrAbandoned, opts.Abandon, last.Status)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeRun(resp *http.Response, runID string) (*handlers.RunView, error) {
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	default:
		return nil, statusError(resp)
	}
	var run handlers.RunView
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &run, nil
}

func errorMessage(body io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&e); err != nil || e.Error == "" {
		return "no error message"
	}
	return e.Error
}

func statusError(resp *http.Response) error {
	return fmt.Errorf("unexpected status %s: %s", resp.Status, errorMessage(resp.Body))
}
