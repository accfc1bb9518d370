package vistream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/pathtree"
	"github.com/vistream/vistream/internal/runhistory"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/visvalue"
)

// Visualizer fans logged run data out to its configured backends.
//
// One backend failing does not stop the others: its error is captured
// and logging continues. Methods are safe for concurrent use.
type Visualizer struct {
	mu sync.Mutex

	run      *visbackend.Run
	backends []visbackend.Backend
	finished bool

	logger  *observability.Logger
	printer *observability.Printer

	// statsStep numbers system-metric rows, which arrive without an
	// explicit training step.
	statsStep int64

	// onFinish runs after the backends are shut down.
	onFinish []func()
}

var errFinished = errors.New("vistream: visualizer already finished")

// Run returns the run this visualizer is logging.
func (v *Visualizer) Run() *visbackend.Run { return v.run }

// Logger returns the run's logger, for wiring supporting components
// like the TensorBoard syncer.
func (v *Visualizer) Logger() *observability.Logger { return v.logger }

// Backends returns the active backends, in dispatch order.
func (v *Visualizer) Backends() []visbackend.Backend {
	return v.backends
}

// LogScalar records one metric value at a step.
func (v *Visualizer) LogScalar(tag string, value float64, step int64) error {
	return v.LogScalars(map[string]float64{tag: value}, step)
}

// LogScalars records one step's metric row.
func (v *Visualizer) LogScalars(values map[string]float64, step int64) error {
	if len(values) == 0 {
		return nil
	}

	row := runhistory.New(step)
	for tag, value := range values {
		row.SetScalar(tag, value)
	}

	return v.logHistory(row)
}

// LogValues records a row of arbitrary values at a step. Scalars go
// to every backend; other values only to backends that store raw
// history.
func (v *Visualizer) LogValues(values map[string]any, step int64) error {
	if len(values) == 0 {
		return nil
	}

	row := runhistory.New(step)
	for tag, value := range values {
		row.SetValue(tag, value)
	}

	return v.logHistory(row)
}

func (v *Visualizer) logHistory(row *runhistory.RunHistory) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return errFinished
	}

	v.each("log history", func(backend visbackend.Backend) error {
		return backend.LogHistory(row)
	})
	return nil
}

// LogConfig records the run's configuration.
func (v *Visualizer) LogConfig(config map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return errFinished
	}

	tree := pathtree.TreeData(config)
	v.each("log config", func(backend visbackend.Backend) error {
		return backend.LogConfig(tree)
	})
	return nil
}

// LogImage records image data under a tag. Raw bytes in common
// formats are accepted; everything is normalized to PNG.
func (v *Visualizer) LogImage(tag string, data []byte, step int64) error {
	img, err := visvalue.FromData(data)
	if err != nil {
		return fmt.Errorf("vistream: bad image for %q: %v", tag, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return errFinished
	}

	v.each("log image", func(backend visbackend.Backend) error {
		return backend.LogImage(tag, img, step)
	})
	return nil
}

// defaultHistogramBins is the bin count for logged distributions.
const defaultHistogramBins = 64

// LogHistogram bins values into a fixed-width histogram and records
// it under a tag. Backends that cannot store distributions skip it.
func (v *Visualizer) LogHistogram(
	tag string,
	values []float64,
	step int64,
) error {
	hist, err := visvalue.NewHistogram(values, defaultHistogramBins)
	if err != nil {
		return fmt.Errorf("vistream: bad histogram for %q: %v", tag, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return errFinished
	}

	v.each("log histogram", func(backend visbackend.Backend) error {
		hl, ok := backend.(visbackend.HistogramLogger)
		if !ok {
			return nil
		}
		return hl.LogHistogram(tag, hist, step)
	})
	return nil
}

// LogText records a text snippet under a tag.
func (v *Visualizer) LogText(tag, text string, step int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return errFinished
	}

	v.each("log text", func(backend visbackend.Backend) error {
		return backend.LogText(tag, text, step)
	})
	return nil
}

// logSystemMetrics is the system monitor's sink.
func (v *Visualizer) logSystemMetrics(metrics map[string]float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return
	}

	v.statsStep++
	row := runhistory.New(v.statsStep)
	for tag, value := range metrics {
		row.SetScalar(tag, value)
	}

	v.each("log system metrics", func(backend visbackend.Backend) error {
		return backend.LogHistory(row)
	})
}

// Finish flushes all backends and marks the run complete.
//
// Blocks until every backend is done. Safe to call more than once;
// only the first call does anything.
func (v *Visualizer) Finish(exitCode int32) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finished {
		return
	}
	v.finished = true

	start := time.Now()
	v.each("finish", func(backend visbackend.Backend) error {
		return backend.Finish(exitCode)
	})

	for _, f := range v.onFinish {
		f()
	}

	v.logger.Info(
		"vistream: run finished",
		"run_id", v.run.ID,
		"exit_code", exitCode,
		"shutdown_time", time.Since(start),
	)

	for _, line := range v.printer.Read() {
		fmt.Println(line)
	}
}

// each dispatches to every backend in order, capturing failures
// instead of propagating them.
func (v *Visualizer) each(
	operation string,
	f func(backend visbackend.Backend) error,
) {
	for _, backend := range v.backends {
		if err := f(backend); err != nil {
			v.logger.CaptureError(
				fmt.Errorf("vistream: %s failed to %s: %v",
					backend.Name(), operation, err),
				"run_id", v.run.ID,
			)
			v.printer.WritefRateLimited(
				time.Minute,
				"%s hit an error; see the debug log.", backend.Name(),
			)
		}
	}
}
