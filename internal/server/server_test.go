package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/internal/orchestrator"
	"github.com/dwsmith1983/feedrun/internal/provider/memory"
	"github.com/dwsmith1983/feedrun/internal/server/handlers"
	"github.com/dwsmith1983/feedrun/internal/sink"
	"github.com/dwsmith1983/feedrun/internal/sources"
	"github.com/dwsmith1983/feedrun/internal/testutil"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

type testEnv struct {
	ts      *httptest.Server
	orch    *orchestrator.Orchestrator
	ledger  *testutil.FlakyLedger
	fetcher *testutil.FakeFetcher
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWithOpts(t, Options{})
}

func setupTestServerWithOpts(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ledger := testutil.NewFlakyLedger(memory.New())
	fetcher := testutil.NewFakeFetcher(map[string]testutil.Response{
		"a": {Items: []types.Item{{URL: "https://a.example.com/1", Title: "one"}}},
	})
	orch, err := orchestrator.New(orchestrator.Deps{
		Ledger:   ledger,
		Sources:  sources.Static{Sources: []types.Source{{ID: "a", URL: "https://a.example.com/feed"}}},
		Fetcher:  fetcher,
		Articles: sink.NewMemoryArticles(),
		Authors:  sink.NewMemoryAuthors(),
	}, orchestrator.Config{StuckTimeout: time.Minute})
	require.NoError(t, err)

	srv := New(":0", orch, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &testEnv{ts: ts, orch: orch, ledger: ledger, fetcher: fetcher}
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])

	env.ledger.SetPingErr(errors.New("timeout"))
	resp, err = http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	decode(t, resp, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestTriggerAndPoll(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json",
		strings.NewReader(`{"trigger":"manual","time_window_hours":12,"max_items_per_source":10}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var accepted map[string]string
	decode(t, resp, &accepted)
	runID := accepted["run_id"]
	require.NotEmpty(t, runID)
	assert.Equal(t, "accepted", accepted["status"])
	assert.Equal(t, "/api/ingestion/"+runID, accepted["poll_url"])

	env.orch.Wait()

	resp, err = http.Get(env.ts.URL + accepted["poll_url"])
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var view handlers.RunView
	decode(t, resp, &view)
	assert.Equal(t, runID, view.RunID)
	assert.Equal(t, types.RunCompleted, view.Status)
	assert.Equal(t, types.PhaseDone, view.Phase)
	assert.Equal(t, 1, view.Stats.ArticlesStored)
	assert.Equal(t, types.RunConfig{TimeWindowHours: 12, MaxItemsPerSource: 10}, view.Config)
	require.NotNil(t, view.IsSuccessful)
	assert.True(t, *view.IsSuccessful)
	assert.GreaterOrEqual(t, view.DurationSeconds, 0.0)
}

func TestTrigger_EmptyBodyUsesDefaults(t *testing.T) {
	env := setupTestServer(t)
	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	decode(t, resp, &accepted)
	env.orch.Wait()

	run, err := env.ledger.GetRun(context.Background(), accepted["run_id"])
	require.NoError(t, err)
	assert.Equal(t, types.RunConfig{TimeWindowHours: 24, MaxItemsPerSource: 50}, run.Config)
}

func TestTrigger_Conflict(t *testing.T) {
	env := setupTestServer(t)
	gate := make(chan struct{})
	env.fetcher.Gate = gate
	defer close(gate)

	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
	require.NoError(t, err)
	var accepted map[string]string
	decode(t, resp, &accepted)

	resp, err = http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var conflict map[string]string
	decode(t, resp, &conflict)
	assert.Equal(t, accepted["run_id"], conflict["active_run_id"])
	assert.Equal(t, accepted["poll_url"], conflict["poll_url"])
	assert.NotEmpty(t, conflict["error"])
}

func TestTrigger_BadRequests(t *testing.T) {
	env := setupTestServer(t)
	for _, body := range []string{
		`{"trigger":`,
		`{"time_window_hours":0.5}`,
		`{"time_window_hours":1000}`,
		`{"max_items_per_source":-1}`,
		`{"trigger":"cron"}`,
	} {
		resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		_ = resp.Body.Close()
	}
}

func TestTrigger_LedgerUnavailable(t *testing.T) {
	env := setupTestServer(t)
	env.ledger.ActiveErr = func() error { return errors.New("connection refused") }

	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.NotContains(t, body["error"], "connection refused", "internal errors are not leaked")
}

func TestGetIngestion_NotFound(t *testing.T) {
	env := setupTestServer(t)
	resp, err := http.Get(env.ts.URL + "/api/ingestion/run-missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetIngestion_SummarizesOmittedErrors(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	run := types.Run{
		RunID:         "run-noisy",
		Trigger:       types.TriggerManual,
		Status:        types.RunFetchingFeeds,
		Phase:         types.PhaseFetchingFeeds,
		StartedAt:     time.Now(),
		LastUpdatedAt: time.Now(),
		Errors:        []types.RunError{},
		Version:       1,
	}
	require.NoError(t, env.ledger.CreateRun(ctx, run))
	var errs []types.RunError
	for i := 0; i < 53; i++ {
		errs = append(errs, types.RunError{SourceID: fmt.Sprintf("s%d", i), Message: "boom", Timestamp: time.Now()})
	}
	_, err := env.ledger.UpdateRun(ctx, "run-noisy", types.RunPatch{AppendErrors: errs})
	require.NoError(t, err)

	resp, err := http.Get(env.ts.URL + "/api/ingestion/run-noisy")
	require.NoError(t, err)
	var view handlers.RunView
	decode(t, resp, &view)
	require.Len(t, view.Errors, 51)
	assert.Equal(t, "+3 more errors", view.Errors[50].Message)
	assert.Equal(t, 3, view.ErrorsOmitted)
	assert.Nil(t, view.IsSuccessful, "running runs have no verdict")
}

func TestListIngestions(t *testing.T) {
	env := setupTestServer(t)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		_ = resp.Body.Close()
		env.orch.Wait()
	}

	resp, err := http.Get(env.ts.URL + "/api/ingestion?limit=2")
	require.NoError(t, err)
	var body struct {
		Runs []handlers.RunView `json:"runs"`
	}
	decode(t, resp, &body)
	assert.Len(t, body.Runs, 2)

	resp, err = http.Get(env.ts.URL + "/api/ingestion?limit=zero")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCancelIngestion(t *testing.T) {
	env := setupTestServer(t)
	gate := make(chan struct{})
	env.fetcher.Gate = gate
	defer close(gate)

	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
	require.NoError(t, err)
	var accepted map[string]string
	decode(t, resp, &accepted)

	cancelURL := env.ts.URL + accepted["poll_url"] + "/cancel"
	resp, err = http.Post(cancelURL, "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var view handlers.RunView
	decode(t, resp, &view)
	assert.Equal(t, types.RunFailed, view.Status)

	resp, err = http.Post(cancelURL, "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Post(env.ts.URL+"/api/ingestion/run-nope/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIKeyMiddleware(t *testing.T) {
	env := setupTestServerWithOpts(t, Options{APIKey: "s3cret"})

	resp, err := http.Get(env.ts.URL + "/api/ingestion")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/ingestion", nil)
	req.Header.Set("X-API-Key", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, env.ts.URL+"/api/ingestion", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is exempt")
	_ = resp.Body.Close()
}

func TestMaxBodyMiddleware(t *testing.T) {
	env := setupTestServerWithOpts(t, Options{MaxBody: 16})
	body := `{"trigger":"manual","time_window_hours":24,"max_items_per_source":50}`
	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRequestIDMiddleware(t *testing.T) {
	env := setupTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Regexp(t, `^[0-9a-z]{26}$`, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	env := setupTestServerWithOpts(t, Options{Gatherer: reg})

	resp, err := http.Post(env.ts.URL+"/api/ingestion", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	env.orch.Wait()

	resp, err = http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "feedrun_runs_triggered_total")
}
