package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSONDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "", "")
	logger.Debug("hidden")
	logger.Info("run accepted", "run_id", "run-1")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run accepted", rec["msg"])
	assert.Equal(t, "run-1", rec["run_id"])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "text")
	logger.Debug("fetching", "source_id", "a")
	assert.Contains(t, buf.String(), "msg=fetching")
	assert.Contains(t, buf.String(), "source_id=a")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
