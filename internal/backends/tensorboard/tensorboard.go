// Package tensorboard writes run data as local tfevents files that
// TensorBoard can display. It needs no credentials.
package tensorboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/tfevents"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
	"gopkg.in/yaml.v3"
)

const fileVersion = "brain.Event:2"

// Backend writes tfevents files under the run's log directory.
type Backend struct {
	params visbackend.Params
	config visbackend.Config

	logDir string
	file   afero.File
	writer *tfevents.RecordWriter

	// now allows stubbing out time.Now in tests.
	now func() time.Time
}

func New(params visbackend.Params, config visbackend.Config) *Backend {
	return &Backend{
		params: params,
		config: config,
		now:    time.Now,
	}
}

func (b *Backend) Name() string { return "TensorboardVisBackend" }

func (b *Backend) Start(run *visbackend.Run) error {
	b.logDir = b.config.SaveDir
	if b.logDir == "" {
		b.logDir = filepath.Join(
			b.params.Settings.RunDir(run.ID), "tensorboard")
	}

	if err := b.params.FS.MkdirAll(b.logDir, 0o755); err != nil {
		return fmt.Errorf("tensorboard: failed to create log dir: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	name := fmt.Sprintf(
		"events.out.tfevents.%d.%s", b.now().Unix(), hostname)

	file, err := b.params.FS.Create(filepath.Join(b.logDir, name))
	if err != nil {
		return fmt.Errorf("tensorboard: failed to create events file: %v", err)
	}
	b.file = file
	b.writer = tfevents.NewRecordWriter(file)

	// Files must start with a file-version event.
	return b.writeEvent(&tfevents.Event{
		WallTime:    b.wallTime(),
		FileVersion: fileVersion,
	})
}

func (b *Backend) LogConfig(config pathtree.TreeData) error {
	text, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("tensorboard: failed to serialize config: %v", err)
	}

	str := string(text)
	return b.writeEvent(&tfevents.Event{
		WallTime: b.wallTime(),
		Summary: []tfevents.SummaryValue{
			{Tag: "config", Text: &str},
		},
	})
}

func (b *Backend) LogHistory(history *runhistory.RunHistory) error {
	scalars := history.Scalars()
	if len(scalars) == 0 {
		return nil
	}

	// Sorted for a deterministic record layout.
	tags := make([]string, 0, len(scalars))
	for tag := range scalars {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	values := make([]tfevents.SummaryValue, 0, len(scalars))
	for _, tag := range tags {
		value := scalars[tag]
		values = append(values, tfevents.SummaryValue{
			Tag:         tag,
			SimpleValue: &value,
		})
	}

	return b.writeEvent(&tfevents.Event{
		WallTime: b.wallTime(),
		Step:     history.Step(),
		Summary:  values,
	})
}

func (b *Backend) LogImage(
	tag string,
	img visvalue.Image,
	step int64,
) error {
	return b.writeEvent(&tfevents.Event{
		WallTime: b.wallTime(),
		Step:     step,
		Summary: []tfevents.SummaryValue{{
			Tag: tag,
			Image: &tfevents.ImageValue{
				Height:  int32(img.Height),
				Width:   int32(img.Width),
				Encoded: img.PNG,
			},
		}},
	})
}

func (b *Backend) LogText(tag, text string, step int64) error {
	return b.writeEvent(&tfevents.Event{
		WallTime: b.wallTime(),
		Step:     step,
		Summary: []tfevents.SummaryValue{
			{Tag: tag, Text: &text},
		},
	})
}

// LogHistogram writes a histogram summary for a set of values.
func (b *Backend) LogHistogram(
	tag string,
	hist visvalue.Histogram,
	step int64,
) error {
	return b.writeEvent(&tfevents.Event{
		WallTime: b.wallTime(),
		Step:     step,
		Summary: []tfevents.SummaryValue{{
			Tag: tag,
			Histogram: &tfevents.HistogramValue{
				Min:         hist.Min,
				Max:         hist.Max,
				Num:         float64(hist.Count()),
				Sum:         hist.Sum,
				SumSquares:  hist.SumSquares,
				BucketLimit: hist.BinEdges[1:],
				Bucket:      bucketCounts(hist),
			},
		}},
	})
}

func (b *Backend) Finish(exitCode int32) error {
	if b.file == nil {
		return nil
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("tensorboard: failed to close events file: %v", err)
	}
	b.file = nil
	return nil
}

func (b *Backend) writeEvent(event *tfevents.Event) error {
	if b.writer == nil {
		return fmt.Errorf("tensorboard: backend not started")
	}
	return b.writer.WriteRecord(event.Marshal())
}

func (b *Backend) wallTime() float64 {
	return float64(b.now().UnixMicro()) / 1e6
}

func bucketCounts(hist visvalue.Histogram) []float64 {
	counts := make([]float64, len(hist.Counts))
	for i, c := range hist.Counts {
		counts[i] = float64(c)
	}
	return counts
}
