package vistream_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/pkg/vistream"
)

// writeRunDir lays out the files a local backend would leave behind.
func writeRunDir(t *testing.T, exitCode int) string {
	t.Helper()
	dir := t.TempDir()

	metadata := `{
		"run_id": "abcd1234",
		"project": "proj",
		"name": "my-run",
		"start_time": "2026-08-01T10:00:00Z",
		"exit_code": ` + jsonInt(exitCode) + `
	}`
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "run-metadata.json"), []byte(metadata), 0o644))

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "config.yaml"),
		[]byte("lr:\n  value: 0.001\n"), 0o644))

	history := `{"_step": 1, "_timestamp": 1754042400.5, "loss": 0.5}
{"_step": 2, "_timestamp": 1754042401.5, "loss": 0.25}
`
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "history.jsonl"), []byte(history), 0o644))

	return dir
}

func jsonInt(v int) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// filestreamServer captures W&B filestream uploads.
type filestreamServer struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (s *filestreamServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var parsed map[string]any
		_ = json.Unmarshal(body, &parsed)

		s.mu.Lock()
		s.bodies = append(s.bodies, parsed)
		s.mu.Unlock()

		_, _ = w.Write([]byte("{}"))
	}
}

func (s *filestreamServer) all() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies
}

func TestSyncRun_ReplaysRunThroughNetworkBackend(t *testing.T) {
	t.Setenv("VISTREAM_MODE", "")
	server := &filestreamServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	dir := writeRunDir(t, 0)

	err := vistream.SyncRun(vistream.SyncParams{
		RunDir: dir,
		Config: &vistream.Config{
			VisBackends: []visbackend.Config{
				{Type: "LocalVisBackend"},
				{
					Type: "WandbVisBackend",
					InitKwargs: map[string]any{
						"api_key":  "secret",
						"base_url": ts.URL,
					},
				},
			},
		},
	})
	require.NoError(t, err)

	bodies := server.all()
	require.NotEmpty(t, bodies)

	var lines int
	for _, body := range bodies {
		files, _ := body["files"].(map[string]any)
		if history, ok := files["history.jsonl"].(map[string]any); ok {
			lines += len(history["content"].([]any))
		}
	}
	assert.Equal(t, 2, lines)

	last := bodies[len(bodies)-1]
	assert.Equal(t, true, last["complete"])
	assert.Equal(t, float64(0), last["exitcode"])
}

func TestSyncRun_UploadsArtifacts(t *testing.T) {
	t.Setenv("VISTREAM_MODE", "")
	server := &filestreamServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	dir := writeRunDir(t, 0)
	dest := t.TempDir()

	err := vistream.SyncRun(vistream.SyncParams{
		RunDir: dir,
		Config: &vistream.Config{
			VisBackends: []visbackend.Config{
				{
					Type: "WandbVisBackend",
					InitKwargs: map[string]any{
						"api_key":  "secret",
						"base_url": ts.URL,
					},
				},
			},
		},
		ArtifactsTo: dest,
	})
	require.NoError(t, err)

	history, err := os.ReadFile(
		filepath.Join(dest, "run-abcd1234", "history.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(history), `"loss"`)
}

func TestSyncRun_NotARunDir(t *testing.T) {
	t.Setenv("VISTREAM_MODE", "")

	err := vistream.SyncRun(vistream.SyncParams{
		RunDir: t.TempDir(),
		Config: &vistream.Config{
			VisBackends: []visbackend.Config{
				{
					Type:       "WandbVisBackend",
					InitKwargs: map[string]any{"api_key": "secret"},
				},
			},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata")
}

func TestSyncRun_NoNetworkBackends(t *testing.T) {
	t.Setenv("VISTREAM_MODE", "")
	dir := writeRunDir(t, 0)

	err := vistream.SyncRun(vistream.SyncParams{
		RunDir: dir,
		Config: &vistream.Config{
			VisBackends: []visbackend.Config{
				{Type: "LocalVisBackend"},
				{Type: "TensorboardVisBackend"},
			},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no network backends")
}

func TestSyncRun_RefusesOfflineMode(t *testing.T) {
	dir := writeRunDir(t, 0)

	err := vistream.SyncRun(vistream.SyncParams{
		RunDir:   dir,
		Config:   &vistream.Config{},
		Settings: &settings.Settings{Offline: true},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}
