package tensorboard_test

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/backends/tensorboard"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/tfevents"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
)

func testParams(fs afero.Fs) visbackend.Params {
	s := &settings.Settings{SaveDir: "out"}
	s.Ensure()
	return visbackend.Params{
		Logger:   observability.NewNoOpLogger(),
		Printer:  observability.NewPrinter(),
		Settings: s,
		FS:       fs,
	}
}

func testRun() *visbackend.Run {
	return &visbackend.Run{
		ID:        "abcd1234",
		Project:   "test",
		StartTime: time.Now(),
	}
}

// readEvents decodes every event in the run's single tfevents file.
func readEvents(t *testing.T, fs afero.Fs, logDir string) []*tfevents.Event {
	t.Helper()

	entries, err := afero.ReadDir(fs, logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := afero.ReadFile(fs, filepath.Join(logDir, entries[0].Name()))
	require.NoError(t, err)

	var events []*tfevents.Event
	reader := tfevents.NewRecordReader(bytes.NewReader(data))
	for {
		record, err := reader.ReadRecord()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)

		event, err := tfevents.UnmarshalEvent(record)
		require.NoError(t, err)
		events = append(events, event)
	}
}

func TestStart_WritesFileVersionFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := tensorboard.New(testParams(fs), visbackend.Config{
		Type:    "TensorboardVisBackend",
		SaveDir: "logs",
	})

	require.NoError(t, b.Start(testRun()))
	require.NoError(t, b.Finish(0))

	events := readEvents(t, fs, "logs")
	require.NotEmpty(t, events)
	assert.Equal(t, "brain.Event:2", events[0].FileVersion)
}

func TestLogHistory_WritesSortedScalars(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := tensorboard.New(testParams(fs), visbackend.Config{SaveDir: "logs"})
	require.NoError(t, b.Start(testRun()))

	row := runhistory.New(10)
	row.SetScalar("loss", 0.5)
	row.SetScalar("eval/acc", 0.75)
	require.NoError(t, b.LogHistory(row))
	require.NoError(t, b.Finish(0))

	events := readEvents(t, fs, "logs")
	require.Len(t, events, 2)

	event := events[1]
	assert.Equal(t, int64(10), event.Step)
	require.Len(t, event.Summary, 2)
	assert.Equal(t, "eval/acc", event.Summary[0].Tag)
	assert.Equal(t, 0.75, *event.Summary[0].SimpleValue)
	assert.Equal(t, "loss", event.Summary[1].Tag)
	assert.Equal(t, 0.5, *event.Summary[1].SimpleValue)
}

func TestLogHistory_SkipsRowsWithoutScalars(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := tensorboard.New(testParams(fs), visbackend.Config{SaveDir: "logs"})
	require.NoError(t, b.Start(testRun()))

	require.NoError(t, b.LogHistory(runhistory.New(1)))
	require.NoError(t, b.Finish(0))

	assert.Len(t, readEvents(t, fs, "logs"), 1)
}

func TestLogImage(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := tensorboard.New(testParams(fs), visbackend.Config{SaveDir: "logs"})
	require.NoError(t, b.Start(testRun()))

	img := visvalue.Image{PNG: []byte{1, 2, 3}, Width: 6, Height: 4}
	require.NoError(t, b.LogImage("samples", img, 5))
	require.NoError(t, b.Finish(0))

	events := readEvents(t, fs, "logs")
	require.Len(t, events, 2)
	require.Len(t, events[1].Summary, 1)

	value := events[1].Summary[0]
	assert.Equal(t, "samples", value.Tag)
	require.NotNil(t, value.Image)
	assert.Equal(t, int32(6), value.Image.Width)
	assert.Equal(t, int32(4), value.Image.Height)
	assert.Equal(t, []byte{1, 2, 3}, value.Image.Encoded)
}

func TestDefaultLogDir_UnderRunDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	params := testParams(fs)
	b := tensorboard.New(params, visbackend.Config{})

	require.NoError(t, b.Start(testRun()))
	require.NoError(t, b.Finish(0))

	logDir := filepath.Join(params.Settings.RunDir("abcd1234"), "tensorboard")
	entries, err := afero.ReadDir(fs, logDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteBeforeStart(t *testing.T) {
	b := tensorboard.New(testParams(afero.NewMemMapFs()), visbackend.Config{})

	err := b.LogText("tag", "text", 0)

	assert.Error(t, err)
}
