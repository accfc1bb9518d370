// Package tbsync forwards TensorBoard log directories to a
// visualizer.
//
// It watches a directory for tfevents writes, parses new records and
// replays their scalar summaries as history rows. This makes any
// trainer that writes TensorBoard logs stream to every configured
// backend without code changes.
package tbsync

import (
	"context"
	"fmt"
	"time"

	"github.com/radovskyb/watcher"
	"github.com/vistream/vistream/internal/observability"
)

const defaultPollInterval = time.Second

// Target receives replayed scalar rows.
type Target interface {
	LogScalars(values map[string]float64, step int64) error
}

// Syncer tails a TensorBoard log directory.
type Syncer struct {
	dir    string
	target Target
	logger *observability.Logger

	reader *fileSequenceReader

	// pollInterval is how often the watcher checks for writes.
	pollInterval time.Duration
}

type Params struct {
	// LogDir is the directory containing tfevents files.
	LogDir string

	// Target receives the replayed data.
	Target Target

	Logger *observability.Logger

	// PollInterval overrides the watch interval. Zero means the
	// default.
	PollInterval time.Duration
}

func New(params Params) *Syncer {
	s := &Syncer{
		dir:          params.LogDir,
		target:       params.Target,
		logger:       params.Logger,
		reader:       newFileSequenceReader(params.LogDir, params.Logger),
		pollInterval: params.PollInterval,
	}
	if s.pollInterval == 0 {
		s.pollInterval = defaultPollInterval
	}
	return s
}

// Run tails the directory until the context is canceled.
//
// Existing events are replayed first, then new writes as they land.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Drain(); err != nil {
		return err
	}

	w := watcher.New()
	w.FilterOps(watcher.Create, watcher.Write)
	if err := w.AddRecursive(s.dir); err != nil {
		return fmt.Errorf("tbsync: failed to watch %s: %v", s.dir, err)
	}

	go func() {
		if err := w.Start(s.pollInterval); err != nil {
			s.logger.CaptureError(
				fmt.Errorf("tbsync: watcher failed: %v", err))
		}
	}()
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			// Pick up anything written since the last event.
			return s.Drain()

		case <-w.Event:
			if err := s.Drain(); err != nil {
				return err
			}

		case err := <-w.Error:
			s.logger.Warn("tbsync: watcher error", "error", err)

		case <-w.Closed:
			return nil
		}
	}
}

// Drain replays all complete events currently on disk.
func (s *Syncer) Drain() error {
	for {
		event, err := s.reader.NextEvent()
		if err != nil {
			return err
		}
		if event == nil {
			return nil
		}

		scalars := map[string]float64{}
		for _, value := range event.Summary {
			if value.SimpleValue != nil {
				scalars[value.Tag] = *value.SimpleValue
			}
		}
		if len(scalars) == 0 {
			continue
		}

		if err := s.target.LogScalars(scalars, event.Step); err != nil {
			return fmt.Errorf("tbsync: failed to forward step %d: %v",
				event.Step, err)
		}
	}
}
