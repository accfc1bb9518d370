package wandb_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/backends/wandb"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visbackend"
)

type capturedRequest struct {
	path string
	body map[string]any
}

// captureServer records every filestream request it receives.
type captureServer struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (s *captureServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var parsed map[string]any
		_ = json.Unmarshal(body, &parsed)

		s.mu.Lock()
		s.requests = append(s.requests,
			capturedRequest{path: r.URL.Path, body: parsed})
		s.mu.Unlock()

		_, _ = w.Write([]byte("{}"))
	}
}

func (s *captureServer) all() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func testParams() visbackend.Params {
	s := &settings.Settings{Project: "proj"}
	s.Ensure()
	return visbackend.Params{
		Logger:   observability.NewNoOpLogger(),
		Printer:  observability.NewPrinter(),
		Settings: s,
		FS:       afero.NewMemMapFs(),
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("WANDB_API_KEY", "")

	_, err := wandb.New(testParams(), visbackend.Config{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestStreamsHistoryAndCompletes(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	b, err := wandb.New(testParams(), visbackend.Config{
		InitKwargs: map[string]any{
			"api_key":  "secret",
			"base_url": ts.URL,
			"entity":   "team",
		},
	})
	require.NoError(t, err)

	run := &visbackend.Run{ID: "abcd1234", Project: "proj", StartTime: time.Now()}
	require.NoError(t, b.Start(run))

	row := runhistory.New(1)
	row.SetScalar("loss", 0.5)
	require.NoError(t, b.LogHistory(row))
	require.NoError(t, b.Finish(0))

	requests := server.all()
	require.NotEmpty(t, requests)

	for _, req := range requests {
		assert.Equal(t,
			"/files/team/proj/abcd1234/file_stream", req.path)
	}

	var sawHistory, sawSummary bool
	for _, req := range requests {
		files, _ := req.body["files"].(map[string]any)
		if _, ok := files["history.jsonl"]; ok {
			sawHistory = true
		}
		if _, ok := files["summary.json"]; ok {
			sawSummary = true
		}
	}
	assert.True(t, sawHistory, "no history lines were uploaded")
	assert.True(t, sawSummary, "no summary was uploaded")

	last := requests[len(requests)-1].body
	assert.Equal(t, true, last["complete"])
	assert.Equal(t, float64(0), last["exitcode"])
}

func TestHistoryOffsetsAdvance(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	b, err := wandb.New(testParams(), visbackend.Config{
		InitKwargs: map[string]any{"api_key": "secret", "base_url": ts.URL},
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(
		&visbackend.Run{ID: "abcd1234", Project: "proj"}))

	for step := range 3 {
		row := runhistory.New(int64(step))
		row.SetScalar("loss", float64(step))
		require.NoError(t, b.LogHistory(row))
	}
	require.NoError(t, b.Finish(0))

	var lines int
	var lastOffset float64
	for _, req := range server.all() {
		files, _ := req.body["files"].(map[string]any)
		history, ok := files["history.jsonl"].(map[string]any)
		if !ok {
			continue
		}

		offset := history["offset"].(float64)
		assert.Equal(t, float64(lines), offset,
			"offset must equal the number of lines already sent")
		lastOffset = offset
		lines += len(history["content"].([]any))
	}

	assert.Equal(t, 3, lines)
	assert.GreaterOrEqual(t, lastOffset, float64(0))
}
