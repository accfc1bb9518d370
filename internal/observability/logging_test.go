package observability_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/observability"
)

func TestNewTags(t *testing.T) {
	tags := observability.NewTags(
		"key", "value",
		slog.Int("count", 3),
		"dangling",
	)

	assert.Equal(t,
		observability.Tags{"key": "value", "count": "3"},
		tags)
}

func TestLogger_IncludesBaseTags(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(
		slog.New(slog.NewJSONHandler(&buf, nil)),
		&observability.LoggerParams{
			Tags: observability.Tags{"run_id": "abcd1234"},
		},
	)

	logger.Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "abcd1234", line["run_id"])
}

func TestCaptureError_LogsWithoutSentry(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(
		slog.New(slog.NewJSONHandler(&buf, nil)), nil)

	logger.CaptureError(errors.New("backend exploded"), "backend", "wandb")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "backend exploded", line["msg"])
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "wandb", line["backend"])
}

func TestNoOpLogger(t *testing.T) {
	logger := observability.NewNoOpLogger()

	// Must not panic.
	logger.Info("discarded")
	logger.CaptureError(errors.New("discarded"))
	logger.CaptureFatal(errors.New("discarded"))
}
