// Package settings holds process-wide settings for the visualizer.
package settings

import (
	"os"
	"path/filepath"
	"time"
)

const defaultSaveDir = "vis_out"

// Settings configures a visualizer and its backends.
//
// Zero values are filled in by Ensure, so a zero Settings is usable.
type Settings struct {
	// SaveDir is the directory where local run data is written.
	SaveDir string

	// Project is the project all backends log runs under.
	Project string

	// RunName is an optional display name for the run.
	RunName string

	// Offline disables all network backends.
	Offline bool

	// StatsSamplingInterval is the system-metrics sampling interval.
	// Zero means the default.
	StatsSamplingInterval time.Duration

	// DisableStats turns off system-metrics collection.
	DisableStats bool

	// StatsOpenMetricsEndpoints maps exporter names to OpenMetrics
	// endpoint URLs scraped alongside the built-in resources, for
	// example a DCGM exporter for GPU stats.
	StatsOpenMetricsEndpoints map[string]string

	// StatsOpenMetricsFilters keeps only scraped metrics whose name
	// matches one of these regular expressions. Empty keeps all.
	StatsOpenMetricsFilters []string

	// SentryDSN enables error reporting when set.
	SentryDSN string
}

// Ensure fills unset fields with defaults and environment overrides.
func (s *Settings) Ensure() {
	if s.SaveDir == "" {
		s.SaveDir = defaultSaveDir
	}
	if s.Project == "" {
		s.Project = "uncategorized"
	}
	if s.SentryDSN == "" {
		s.SentryDSN = os.Getenv("VISTREAM_SENTRY_DSN")
	}
	if os.Getenv("VISTREAM_MODE") == "offline" {
		s.Offline = true
	}
}

// RunDir returns the local directory for a run's files.
func (s *Settings) RunDir(runID string) string {
	return filepath.Join(s.SaveDir, "run-"+runID)
}

// EnvOr returns the value of the environment variable if set,
// otherwise the fallback.
func EnvOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
