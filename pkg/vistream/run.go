package vistream

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/vistream/vistream/internal/monitor"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/randomid"
	"github.com/vistream/vistream/internal/sentryext"
	"github.com/vistream/vistream/internal/settings"
	"github.com/vistream/vistream/internal/visbackend"
	"github.com/vistream/vistream/internal/waiting"
)

// version is stamped at build time.
var version = "dev"

// DebugLogFileName is the per-run debug log inside the run directory.
const DebugLogFileName = "debug.log"

// printerPollInterval is how often queued console messages are
// flushed to stdout during a run.
const printerPollInterval = time.Second

// InitParams configures a new run.
type InitParams struct {
	// Config selects and configures the backends. Required.
	Config *Config

	// Settings for the run. Nil means defaults.
	Settings *settings.Settings

	// RunID resumes logging under an existing ID instead of minting a
	// new one.
	RunID string

	// FS overrides the filesystem, for testing.
	FS afero.Fs
}

// Init starts a run and returns its visualizer.
//
// Every run gets a LocalVisBackend in addition to the configured
// backends, so there is always a local copy to sync from.
func Init(params InitParams) (*Visualizer, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("vistream: no config given")
	}

	runSettings := params.Settings
	if runSettings == nil {
		runSettings = &settings.Settings{}
	}
	if params.Config.SaveDir != "" {
		runSettings.SaveDir = params.Config.SaveDir
	}
	runSettings.Ensure()

	statsRes, err := statsResources(runSettings)
	if err != nil {
		return nil, err
	}

	fs := params.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	runID := params.RunID
	if runID == "" {
		runID = randomid.NewRunID()
	}
	run := &visbackend.Run{
		ID:        runID,
		Project:   runSettings.Project,
		Name:      runSettings.RunName,
		StartTime: time.Now(),
	}

	sentry := sentryext.New(sentryext.Params{
		DSN:              runSettings.SentryDSN,
		Release:          version,
		AttachStacktrace: true,
	})

	logger, logFile := newRunLogger(fs, runSettings, run, sentry)
	printer := observability.NewPrinter()

	backendParams := visbackend.Params{
		Logger:   logger,
		Printer:  printer,
		Settings: runSettings,
		FS:       fs,
	}

	backends, err := buildBackends(backendParams, params.Config)
	if err != nil {
		return nil, err
	}

	for _, backend := range backends {
		if err := backend.Start(run); err != nil {
			return nil, fmt.Errorf(
				"vistream: %s failed to start: %v", backend.Name(), err)
		}
	}

	v := &Visualizer{
		run:      run,
		backends: backends,
		logger:   logger,
		printer:  printer,
	}

	// Surface queued console messages while the run is alive instead
	// of only at Finish.
	stopPolling := make(chan struct{})
	go pollPrinter(
		printer,
		waiting.NewDelay(printerPollInterval),
		stopPolling,
		func(line string) { fmt.Println(line) },
	)
	v.onFinish = append(v.onFinish, func() { close(stopPolling) })

	if !runSettings.DisableStats {
		sm := monitor.NewSystemMonitor(monitor.Params{
			Sink:             v.logSystemMetrics,
			Resources:        statsRes,
			SamplingInterval: runSettings.StatsSamplingInterval,
			Logger:           logger,
		})
		sm.Start()
		v.onFinish = append(v.onFinish, sm.Finish)
	}

	v.onFinish = append(v.onFinish, func() {
		sentry.Flush(2 * time.Second)
		if logFile != nil {
			_ = logFile.Close()
		}
	})

	logger.Info(
		"vistream: run started",
		"run_id", run.ID,
		"project", run.Project,
		"backends", len(backends),
	)

	return v, nil
}

// statsResources builds the monitored resource set, appending an
// OpenMetrics scraper per configured exporter endpoint. Returns nil
// for the default set.
func statsResources(s *settings.Settings) ([]monitor.Resource, error) {
	if len(s.StatsOpenMetricsEndpoints) == 0 {
		return nil, nil
	}

	filters := make([]*regexp.Regexp, 0, len(s.StatsOpenMetricsFilters))
	for _, pattern := range s.StatsOpenMetricsFilters {
		filter, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf(
				"vistream: bad stats filter %q: %v", pattern, err)
		}
		filters = append(filters, filter)
	}

	names := make([]string, 0, len(s.StatsOpenMetricsEndpoints))
	for name := range s.StatsOpenMetricsEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	resources := monitor.DefaultResources()
	for _, name := range names {
		resources = append(resources, monitor.NewOpenMetrics(
			name, s.StatsOpenMetricsEndpoints[name], filters))
	}

	return resources, nil
}

// pollPrinter emits queued console messages until stop is closed.
// Finish drains whatever is left afterward.
func pollPrinter(
	printer *observability.Printer,
	delay waiting.Delay,
	stop <-chan struct{},
	emit func(string),
) {
	for {
		tick, cancel := delay.Wait()
		select {
		case <-stop:
			cancel()
			return
		case <-tick:
		}

		for _, line := range printer.Read() {
			emit(line)
		}
	}
}

// buildBackends constructs the backend list for a config, prepending
// the implicit local backend when it is not configured explicitly.
func buildBackends(
	params visbackend.Params,
	config *Config,
) ([]visbackend.Backend, error) {
	entries := config.VisBackends

	hasLocal := false
	for _, entry := range entries {
		if entry.Type == "LocalVisBackend" {
			hasLocal = true
			break
		}
	}
	if !hasLocal {
		entries = append(
			[]visbackend.Config{{Type: "LocalVisBackend"}},
			entries...,
		)
	}

	var backends []visbackend.Backend
	for _, entry := range entries {
		backend, err := newBackend(params, entry)
		if err != nil {
			return nil, err
		}
		if backend == nil {
			// Skipped, offline mode.
			continue
		}
		backends = append(backends, backend)
	}

	return backends, nil
}

// newRunLogger opens the run's debug log and builds a logger writing
// to it. Falls back to a no-op logger if the file cannot be opened.
func newRunLogger(
	fs afero.Fs,
	runSettings *settings.Settings,
	run *visbackend.Run,
	sentry *sentryext.Client,
) (*observability.Logger, afero.File) {
	dir := runSettings.RunDir(run.ID)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("vistream: failed to create run dir", "error", err)
		return observability.NewNoOpLogger(), nil
	}

	file, err := fs.OpenFile(
		filepath.Join(dir, DebugLogFileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644,
	)
	if err != nil {
		slog.Warn("vistream: failed to open debug log", "error", err)
		return observability.NewNoOpLogger(), nil
	}

	logger := observability.NewLogger(
		slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
		&observability.LoggerParams{
			Sentry: sentry,
			Tags: observability.Tags{
				"run_id":  run.ID,
				"project": run.Project,
			},
		},
	)

	return logger, file
}
