package clearml_test

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/backends/clearml"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visbackend"
)

// fakeServer implements the task and event endpoints the backend
// calls.
type fakeServer struct {
	mu     sync.Mutex
	calls  map[string]int
	events []map[string]any
	config map[string]any
}

func newFakeServer() *fakeServer {
	return &fakeServer{calls: map[string]int{}}
}

func (s *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.calls[r.URL.Path]++
		switch r.URL.Path {
		case "/v2.23/events.add_batch":
			var batch []map[string]any
			_ = json.Unmarshal(body, &batch)
			s.events = append(s.events, batch...)
		case "/v2.23/tasks.edit_hyper_params":
			_ = json.Unmarshal(body, &s.config)
		}
		s.mu.Unlock()

		if r.URL.Path == "/v2.23/tasks.create" {
			_, _ = w.Write([]byte(`{"data": {"id": "task-1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": {}}`))
	}
}

func (s *fakeServer) callCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *fakeServer) allEvents() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
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

func newTestBackend(t *testing.T, apiHost string) *clearml.Backend {
	t.Helper()
	b, err := clearml.New(testParams(), visbackend.Config{
		InitKwargs: map[string]any{
			"access_key": "access",
			"secret_key": "secret",
			"api_host":   apiHost,
		},
	})
	require.NoError(t, err)
	return b
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Setenv("CLEARML_API_ACCESS_KEY", "")
	t.Setenv("CLEARML_API_SECRET_KEY", "")

	_, err := clearml.New(testParams(), visbackend.Config{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clearml-init")
}

func TestStart_CreatesTask(t *testing.T) {
	server := newFakeServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	b := newTestBackend(t, ts.URL)
	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234", Project: "proj"}))
	require.NoError(t, b.Finish(0))

	assert.Equal(t, 1, server.callCount("/v2.23/tasks.create"))
	assert.Equal(t, 1, server.callCount("/v2.23/tasks.completed"))
}

func TestFinish_NonzeroExitFailsTask(t *testing.T) {
	server := newFakeServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	b := newTestBackend(t, ts.URL)
	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))
	require.NoError(t, b.Finish(1))

	assert.Equal(t, 1, server.callCount("/v2.23/tasks.failed"))
	assert.Zero(t, server.callCount("/v2.23/tasks.completed"))
}

func TestLogHistory_SendsScalarEvents(t *testing.T) {
	server := newFakeServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	b := newTestBackend(t, ts.URL)
	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))

	row := runhistory.New(5)
	row.SetScalar("eval/top1/acc", 0.9)
	row.SetScalar("loss", 0.5)
	row.SetScalar("bad", math.NaN())
	require.NoError(t, b.LogHistory(row))
	require.NoError(t, b.Finish(0))

	events := server.allEvents()
	require.Len(t, events, 2, "NaN values must be dropped")

	byVariant := map[string]map[string]any{}
	for _, event := range events {
		byVariant[event["variant"].(string)] = event
		assert.Equal(t, "task-1", event["task"])
		assert.Equal(t, "training_stats_scalar", event["type"])
		assert.Equal(t, float64(5), event["iter"])
	}

	require.Contains(t, byVariant, "acc")
	assert.Equal(t, "eval/top1", byVariant["acc"]["metric"])
	require.Contains(t, byVariant, "loss")
	assert.Equal(t, "metrics", byVariant["loss"]["metric"])
}

func TestLogConfig_EditsHyperParams(t *testing.T) {
	server := newFakeServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	b := newTestBackend(t, ts.URL)
	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))

	require.NoError(t, b.LogConfig(pathtree.TreeData{
		"optimizer": pathtree.TreeData{"lr": 0.001},
	}))
	require.NoError(t, b.Finish(0))

	require.NotNil(t, server.config)
	assert.Equal(t, "task-1", server.config["task"])

	hyperparams := server.config["hyperparams"].(map[string]any)
	param := hyperparams["General/optimizer/lr"].(map[string]any)
	assert.Equal(t, "General", param["section"])
	assert.Equal(t, "optimizer/lr", param["name"])
	assert.Equal(t, "0.001", param["value"])
}
