// Package visbackend defines the contract between the visualizer
// dispatcher and its backends.
package visbackend

import (
	"time"

	"github.com/spf13/afero"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visvalue"
)

// Run identifies a single training run.
type Run struct {
	// ID is the run's unique identifier, lowercase alphanumeric.
	ID string

	// Project is the project the run belongs to.
	Project string

	// Name is an optional display name.
	Name string

	// StartTime is when the run began.
	StartTime time.Time
}

// Backend forwards a run's logged data to one experiment-tracking
// destination.
//
// Backends buffer internally; calls must be cheap from the training
// loop's point of view. Finish flushes and blocks until done.
// Implementations need not be safe for concurrent use: the dispatcher
// serializes calls.
type Backend interface {
	// Name returns the backend's type tag for logging.
	Name() string

	// Start begins the run on this backend.
	Start(run *Run) error

	// LogConfig records the run's configuration tree.
	LogConfig(config pathtree.TreeData) error

	// LogHistory records one step's metric row.
	LogHistory(history *runhistory.RunHistory) error

	// LogImage records an image under the given tag.
	LogImage(tag string, img visvalue.Image, step int64) error

	// LogText records a text snippet under the given tag.
	LogText(tag, text string, step int64) error

	// Finish flushes buffered data and shuts the backend down,
	// marking the run complete with the given exit code.
	Finish(exitCode int32) error
}

// HistogramLogger is implemented by backends that can record value
// distributions. The dispatcher skips backends without it.
type HistogramLogger interface {
	// LogHistogram records a binned distribution under the given tag.
	LogHistogram(tag string, hist visvalue.Histogram, step int64) error
}

// Params carries the shared dependencies handed to every backend
// constructor.
type Params struct {
	Logger   *observability.Logger
	Printer  *observability.Printer
	Settings *settings.Settings

	// FS is the filesystem backends write local files to.
	FS afero.Fs
}

// Config is one entry of the visualizer's vis_backends list.
type Config struct {
	// Type selects the backend variant.
	Type string `yaml:"type" json:"type"`

	// SaveDir overrides the settings save directory for this backend.
	SaveDir string `yaml:"save_dir,omitempty" json:"save_dir,omitempty"`

	// InitKwargs is forwarded verbatim to the backend's client
	// initializer. Each backend documents the keys it reads and
	// ignores the rest.
	InitKwargs map[string]any `yaml:"init_kwargs,omitempty" json:"init_kwargs,omitempty"`
}

// KwargString reads a string value from init_kwargs.
func (c *Config) KwargString(key string) string {
	if c.InitKwargs == nil {
		return ""
	}
	if value, ok := c.InitKwargs[key].(string); ok {
		return value
	}
	return ""
}
