package neptune_test

import (
	"bufio"
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/backends/neptune"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/wandb/simplejsonext"
)

func testParams(fs afero.Fs) visbackend.Params {
	s := &settings.Settings{Project: "proj"}
	s.Ensure()
	return visbackend.Params{
		Logger:   observability.NewNoOpLogger(),
		Printer:  observability.NewPrinter(),
		Settings: s,
		FS:       fs,
	}
}

func clearNeptuneEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NEPTUNE_API_TOKEN", "")
	t.Setenv("NEPTUNE_PROJECT", "")
}

func readOperations(t *testing.T, fs afero.Fs, runID string) []map[string]any {
	t.Helper()

	path := filepath.Join(
		".neptune", "offline", "run__"+runID, "operations.jsonl")
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	var operations []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		op, err := simplejsonext.UnmarshalObjectString(scanner.Text())
		require.NoError(t, err)
		operations = append(operations, op)
	}
	return operations
}

func TestNew_OfflineWithoutToken(t *testing.T) {
	clearNeptuneEnv(t)

	b := neptune.New(testParams(afero.NewMemMapFs()), visbackend.Config{})

	assert.True(t, b.IsOffline())
}

func TestNew_OnlineWithToken(t *testing.T) {
	clearNeptuneEnv(t)

	b := neptune.New(testParams(afero.NewMemMapFs()), visbackend.Config{
		InitKwargs: map[string]any{"api_token": "token"},
	})

	assert.False(t, b.IsOffline())
}

func TestNew_GlobalOfflineWinsOverToken(t *testing.T) {
	clearNeptuneEnv(t)
	fs := afero.NewMemMapFs()
	params := testParams(fs)
	params.Settings.Offline = true

	b := neptune.New(params, visbackend.Config{
		InitKwargs: map[string]any{"api_token": "token"},
	})
	require.True(t, b.IsOffline())

	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))
	row := runhistory.New(1)
	row.SetScalar("loss", 0.5)
	require.NoError(t, b.LogHistory(row))
	require.NoError(t, b.Finish(0))

	operations := readOperations(t, fs, "abcd1234")
	require.Len(t, operations, 1)
	assert.Equal(t, "logFloats", operations[0]["op"])
}

func TestOffline_AnnouncesItself(t *testing.T) {
	clearNeptuneEnv(t)
	params := testParams(afero.NewMemMapFs())
	b := neptune.New(params, visbackend.Config{})

	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))
	require.NoError(t, b.Finish(0))

	messages := params.Printer.Read()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "offline mode")
}

func TestOffline_RecordsHistoryOperations(t *testing.T) {
	clearNeptuneEnv(t)
	fs := afero.NewMemMapFs()
	b := neptune.New(testParams(fs), visbackend.Config{})
	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))

	row := runhistory.New(4)
	row.SetScalar("loss", 0.5)
	require.NoError(t, b.LogHistory(row))
	require.NoError(t, b.Finish(0))

	operations := readOperations(t, fs, "abcd1234")
	require.Len(t, operations, 1)

	op := operations[0]
	assert.Equal(t, "loss", op["attribute"])
	assert.Equal(t, "logFloats", op["op"])
	assert.Equal(t, 0.5, op["value"])
	assert.Equal(t, int64(4), op["step"])
}

func TestOffline_RecordsConfigAssignments(t *testing.T) {
	clearNeptuneEnv(t)
	fs := afero.NewMemMapFs()
	b := neptune.New(testParams(fs), visbackend.Config{})
	require.NoError(t, b.Start(&visbackend.Run{ID: "abcd1234"}))

	require.NoError(t, b.LogConfig(pathtree.TreeData{
		"optimizer": pathtree.TreeData{"lr": 0.001},
	}))
	require.NoError(t, b.Finish(0))

	operations := readOperations(t, fs, "abcd1234")
	require.Len(t, operations, 1)
	assert.Equal(t, "config/optimizer/lr", operations[0]["attribute"])
	assert.Equal(t, "assign", operations[0]["op"])
	assert.Equal(t, 0.001, operations[0]["value"])
}

func TestOffline_LogBeforeStart(t *testing.T) {
	clearNeptuneEnv(t)
	b := neptune.New(testParams(afero.NewMemMapFs()), visbackend.Config{})

	err := b.LogText("note", "hello", 0)

	assert.Error(t, err)
}
