// Package local writes run data to a local run directory.
//
// Every run gets this backend implicitly: it is the source of truth
// that `vistream sync` re-uploads if a network backend dies mid-run.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/vistream/vistream/internal/debounce"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runconfig"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/runsummary"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
	"github.com/wandb/simplejsonext"
	"golang.org/x/time/rate"
)

// File names inside a run directory.
const (
	HistoryFileName  = "history.jsonl"
	SummaryFileName  = "summary.json"
	ConfigFileName   = "config.yaml"
	MetadataFileName = "run-metadata.json"
	MediaDirName     = "media"
)

const summaryDebounceRate = rate.Limit(1.0 / 30)

// Backend writes history, summary, config and media files under
// <save_dir>/run-<id>/.
type Backend struct {
	params visbackend.Params
	config visbackend.Config

	run     *visbackend.Run
	dir     string
	history afero.File

	summary          *runsummary.RunSummary
	summaryDebouncer *debounce.Debouncer
}

func New(params visbackend.Params, config visbackend.Config) *Backend {
	return &Backend{
		params:  params,
		config:  config,
		summary: runsummary.New(),
		summaryDebouncer: debounce.New(
			summaryDebounceRate, 1, params.Logger),
	}
}

func (b *Backend) Name() string { return "LocalVisBackend" }

// Dir returns the run directory. Empty before Start.
func (b *Backend) Dir() string { return b.dir }

func (b *Backend) Start(run *visbackend.Run) error {
	b.run = run

	b.dir = b.config.SaveDir
	if b.dir == "" {
		b.dir = b.params.Settings.RunDir(run.ID)
	}
	if err := b.params.FS.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("local: failed to create run dir: %v", err)
	}

	history, err := b.params.FS.OpenFile(
		filepath.Join(b.dir, HistoryFileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644,
	)
	if err != nil {
		return fmt.Errorf("local: failed to open history file: %v", err)
	}
	b.history = history

	return b.writeMetadata(nil)
}

func (b *Backend) LogConfig(config pathtree.TreeData) error {
	rc := runconfig.NewFrom(config)
	data, err := rc.Serialize(runconfig.FormatYaml)
	if err != nil {
		return fmt.Errorf("local: failed to serialize config: %v", err)
	}

	return afero.WriteFile(
		b.params.FS,
		filepath.Join(b.dir, ConfigFileName),
		data, 0o644,
	)
}

func (b *Backend) LogHistory(history *runhistory.RunHistory) error {
	line, err := history.ToExtendedJSON()
	if err != nil {
		return fmt.Errorf("local: failed to serialize history: %v", err)
	}

	if _, err := b.history.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("local: failed to write history: %v", err)
	}

	b.summary.UpdateFromHistory(history)
	b.summaryDebouncer.Mark()
	b.summaryDebouncer.Maybe(b.flushSummary)

	return nil
}

func (b *Backend) LogImage(
	tag string,
	img visvalue.Image,
	step int64,
) error {
	mediaPath := filepath.Join(
		MediaDirName, "images",
		fmt.Sprintf("%s_%d.png", filepath.Base(tag), step),
	)

	fullPath := filepath.Join(b.dir, mediaPath)
	if err := b.params.FS.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("local: failed to create media dir: %v", err)
	}
	if err := afero.WriteFile(b.params.FS, fullPath, img.PNG, 0o644); err != nil {
		return fmt.Errorf("local: failed to write image: %v", err)
	}

	metadataJSON, err := img.HistoryValueJSON(filepath.ToSlash(mediaPath))
	if err != nil {
		return err
	}
	metadata, err := simplejsonext.UnmarshalString(metadataJSON)
	if err != nil {
		return fmt.Errorf("local: failed to parse image metadata: %v", err)
	}

	row := runhistory.New(step)
	row.SetValue(tag, metadata)
	return b.LogHistory(row)
}

func (b *Backend) LogText(tag, text string, step int64) error {
	row := runhistory.New(step)
	row.SetValue(tag, text)
	return b.LogHistory(row)
}

// LogHistogram stores the binned distribution as a history row value.
func (b *Backend) LogHistogram(
	tag string,
	hist visvalue.Histogram,
	step int64,
) error {
	row := runhistory.New(step)
	row.SetValue(tag, hist.HistoryValueJSON())
	return b.LogHistory(row)
}

func (b *Backend) Finish(exitCode int32) error {
	b.summaryDebouncer.Flush(b.flushSummary)
	b.summaryDebouncer.Stop()

	if b.history != nil {
		if err := b.history.Close(); err != nil {
			return fmt.Errorf("local: failed to close history: %v", err)
		}
		b.history = nil
	}

	return b.writeMetadata(&exitCode)
}

func (b *Backend) flushSummary() {
	data, err := b.summary.ToExtendedJSON()
	if err != nil {
		b.params.Logger.CaptureError(
			fmt.Errorf("local: failed to serialize summary: %v", err))
		return
	}

	err = afero.WriteFile(
		b.params.FS,
		filepath.Join(b.dir, SummaryFileName),
		data, 0o644,
	)
	if err != nil {
		b.params.Logger.CaptureError(
			fmt.Errorf("local: failed to write summary: %v", err))
	}
}

func (b *Backend) writeMetadata(exitCode *int32) error {
	metadata := map[string]any{
		"run_id":     b.run.ID,
		"project":    b.run.Project,
		"name":       b.run.Name,
		"start_time": b.run.StartTime.Format(time.RFC3339),
	}
	if exitCode != nil {
		metadata["exit_code"] = *exitCode
		metadata["finish_time"] = time.Now().Format(time.RFC3339)
	}

	data, err := simplejsonext.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("local: failed to serialize metadata: %v", err)
	}

	return afero.WriteFile(
		b.params.FS,
		filepath.Join(b.dir, MetadataFileName),
		data, 0o644,
	)
}
