// Package sentryext reports internal errors to Sentry.
package sentryext

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type Params struct {
	// DSN is the Sentry Data Source Name. If empty, the client is
	// disabled and captures nothing.
	DSN string

	// Release is the version of the library.
	Release string

	// Environment is the environment the application runs in.
	Environment string

	// AttachStacktrace attaches stack traces to captured messages.
	AttachStacktrace bool

	// CacheSize bounds the recent-error deduplication cache.
	CacheSize int
}

// Client sends errors and messages to Sentry, deduplicating errors
// that were reported recently.
type Client struct {
	enabled bool
	recent  *recentCache
}

// New initializes the Sentry SDK and returns a client.
//
// With an empty DSN the returned client is a no-op, so callers never
// need to check for a disabled reporter.
func New(params Params) *Client {
	if params.DSN == "" {
		slog.Debug("sentryext: disabled, no DSN provided")
		return &Client{}
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              params.DSN,
		Release:          params.Release,
		Environment:      params.Environment,
		AttachStacktrace: params.AttachStacktrace,
	})
	if err != nil {
		slog.Error("sentryext: failed to initialize", "error", err)
		return &Client{}
	}

	recent, err := newRecentCache(params.CacheSize)
	if err != nil {
		slog.Error("sentryext: failed to create cache", "error", err)
		return &Client{}
	}

	return &Client{enabled: true, recent: recent}
}

// CaptureException reports an error with the given tags.
//
// Errors with a message already sent within the deduplication window
// are dropped.
func (c *Client) CaptureException(err error, tags map[string]string) {
	if c == nil || !c.enabled || err == nil {
		return
	}
	if !c.recent.shouldCapture(err) {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// CaptureMessage reports a message with the given tags.
func (c *Client) CaptureMessage(msg string, tags map[string]string) {
	if c == nil || !c.enabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureMessage(msg)
	})
}

// Flush waits for buffered events to be delivered.
func (c *Client) Flush(timeout time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	sentry.Flush(timeout)
}
