package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/feedrun/internal/metrics"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

func testAlert() types.Alert {
	return types.Alert{
		Level:     types.AlertLevelError,
		Category:  "run_failed",
		RunID:     "run-01jabc",
		Message:   "something went wrong",
		Timestamp: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestConsoleSink_Send(t *testing.T) {
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf}
	assert.Equal(t, "console", sink.Name())

	ctx := context.Background()
	for _, level := range []types.AlertLevel{types.AlertLevelError, types.AlertLevelWarning, types.AlertLevelInfo} {
		a := testAlert()
		a.Level = level
		require.NoError(t, sink.Send(ctx, a))
	}
	noRun := testAlert()
	noRun.RunID = ""
	require.NoError(t, sink.Send(ctx, noRun))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "[run-01jabc] something went wrong")
	assert.NotContains(t, lines[3], "run-01jabc")
}

func TestWebhookSink_Send_Success(t *testing.T) {
	var received []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "run_failed", r.Header.Get("X-Feedrun-Alert"))
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)
	alert := testAlert()
	require.NoError(t, sink.Send(context.Background(), alert))

	var got webhookPayload
	require.NoError(t, json.Unmarshal(received, &got))
	assert.Equal(t, "[ERROR] run_failed run-01jabc: something went wrong", got.Text)
	assert.Equal(t, alert.Message, got.Alert.Message)
	assert.Equal(t, alert.RunID, got.Alert.RunID)
	assert.Equal(t, "run_failed", got.Alert.Category)
}

func TestWebhookSink_Send_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("channel archived\n"))
	}))
	defer ts.Close()

	err := NewWebhookSink(ts.URL).Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "channel archived")
}

func TestFileSink_Send(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert()))
	require.NoError(t, sink.Send(context.Background(), testAlert()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var got types.Alert
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "something went wrong", got.Message)

	require.NoError(t, sink.Close())
	assert.Error(t, sink.Send(context.Background(), testAlert()))
	assert.NoError(t, sink.Close())
}

func TestRenderText(t *testing.T) {
	a := testAlert()
	a.Level = types.AlertLevelWarning
	a.Category = ""
	a.RunID = ""
	assert.Equal(t, "[WARNING]: something went wrong", renderText(a))
}

func TestDispatcher_CloseClosesFileSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	d, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertConsole}, {Type: types.AlertFile, Path: path}}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestFileSink_UnwritablePath(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "alerts.jsonl"))
	assert.Error(t, err)
}

type mockEventBridge struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
	err    error
}

func (m *mockEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	if m.out != nil {
		return m.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEventBridgeSink_Send(t *testing.T) {
	mock := &mockEventBridge{}
	sink, err := NewEventBridgeSink("ops-bus", WithEventBridgeClient(mock))
	require.NoError(t, err)
	assert.Equal(t, "eventbridge", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert()))

	require.Len(t, mock.inputs, 1)
	require.Len(t, mock.inputs[0].Entries, 1)
	entry := mock.inputs[0].Entries[0]
	assert.Equal(t, "ops-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, "feedrun", aws.ToString(entry.Source))
	assert.Equal(t, "feedrun.alert", aws.ToString(entry.DetailType))

	var decoded types.Alert
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &decoded))
	assert.Equal(t, "run-01jabc", decoded.RunID)
}

func TestEventBridgeSink_DefaultBus(t *testing.T) {
	mock := &mockEventBridge{}
	sink, err := NewEventBridgeSink("", WithEventBridgeClient(mock))
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), testAlert()))
	assert.Equal(t, "default", aws.ToString(mock.inputs[0].Entries[0].EventBusName))
}

func TestEventBridgeSink_FailedEntry(t *testing.T) {
	mock := &mockEventBridge{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []ebtypes.PutEventsResultEntry{{ErrorMessage: aws.String("throttled")}},
	}}
	sink, err := NewEventBridgeSink("ops-bus", WithEventBridgeClient(mock))
	require.NoError(t, err)

	err = sink.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestEventBridgeSink_ClientError(t *testing.T) {
	mock := &mockEventBridge{err: errors.New("access denied")}
	sink, err := NewEventBridgeSink("ops-bus", WithEventBridgeClient(mock))
	require.NoError(t, err)
	assert.ErrorContains(t, sink.Send(context.Background(), testAlert()), "access denied")
}

// errSink is a test sink that always returns an error.
type errSink struct{}

func (s *errSink) Send(_ context.Context, _ types.Alert) error { return fmt.Errorf("sink error") }
func (s *errSink) Name() string                                { return "error-sink" }

// recordSink records all alerts sent to it.
type recordSink struct {
	alerts []types.Alert
	ctxErr error
}

func (s *recordSink) Send(ctx context.Context, a types.Alert) error {
	s.alerts = append(s.alerts, a)
	s.ctxErr = ctx.Err()
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func TestDispatcher_MultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	d := &Dispatcher{sinks: []Sink{s1, s2}, logger: slog.Default()}

	alert := testAlert()
	d.Dispatch(context.Background(), alert)

	assert.Len(t, s1.alerts, 1)
	assert.Len(t, s2.alerts, 1)
	assert.Equal(t, alert.Message, s1.alerts[0].Message)
}

func TestDispatcher_SinkError_ContinuesOthers(t *testing.T) {
	recording := &recordSink{}
	d := &Dispatcher{
		sinks:  []Sink{&errSink{}, recording},
		logger: slog.Default(),
	}

	before := testutil.ToFloat64(metrics.AlertsFailed.WithLabelValues("error-sink"))
	d.Dispatch(context.Background(), testAlert())

	assert.Len(t, recording.alerts, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AlertsFailed.WithLabelValues("error-sink")))
}

func TestDispatcher_DetachesCancelledContext(t *testing.T) {
	recording := &recordSink{}
	d := &Dispatcher{sinks: []Sink{recording}, logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := testAlert()
	a.Timestamp = time.Time{}
	d.Dispatch(ctx, a)

	require.Len(t, recording.alerts, 1)
	assert.NoError(t, recording.ctxErr)
	assert.False(t, recording.alerts[0].Timestamp.IsZero())
}

func TestNewDispatcher_Configs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	d, err := NewDispatcher([]types.AlertConfig{
		{Type: types.AlertConsole},
		{Type: types.AlertWebhook, URL: "http://localhost:9/hook"},
		{Type: types.AlertFile, Path: path},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	_, err = NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook}}, nil)
	assert.ErrorContains(t, err, "webhook URL required")

	_, err = NewDispatcher([]types.AlertConfig{{Type: "pager"}}, nil)
	assert.ErrorContains(t, err, "unknown alert type")
}
