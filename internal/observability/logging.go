// Package observability provides logging for the visualizer engine.
package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/vistream/vistream/internal/sentryext"
)

// Tags are key-value annotations attached to captured errors.
type Tags map[string]string

// NewTags builds Tags from a mix of slog.Attr values and alternating
// string key-value pairs. Incomplete pairs and other types are ignored.
func NewTags(args ...any) Tags {
	tags := Tags{}
	for len(args) > 0 {
		switch x := args[0].(type) {
		case slog.Attr:
			tags[x.Key] = x.Value.String()
			args = args[1:]
		case string:
			if len(args) < 2 {
				return tags
			}
			attr := slog.Any(x, args[1])
			tags[attr.Key] = attr.Value.String()
			args = args[2:]
		default:
			args = args[1:]
		}
	}
	return tags
}

const LevelFatal = slog.Level(12)

// Logger wraps slog and reports captured errors to Sentry.
//
// The Capture* methods log locally and forward to the error reporter,
// when one is configured. Plain Debug/Info/Warn/Error calls only log.
type Logger struct {
	*slog.Logger
	baseTags Tags
	sentry   *sentryext.Client
}

type LoggerParams struct {
	Sentry *sentryext.Client
	Tags   Tags
}

func NewLogger(logger *slog.Logger, params *LoggerParams) *Logger {
	if params == nil {
		params = &LoggerParams{}
	}

	tags := Tags{}
	var args []any
	for key, value := range params.Tags {
		args = append(args, slog.String(key, value))
		tags[key] = value
	}

	return &Logger{
		Logger:   logger.With(args...),
		baseTags: tags,
		sentry:   params.Sentry,
	}
}

// With returns a derived logger that includes the given attributes
// in each message.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:   l.Logger.With(args...),
		baseTags: l.baseTags,
		sentry:   l.sentry,
	}
}

// sentryTags merges args into the logger's base tags. Base tags win.
func (l *Logger) sentryTags(args ...any) map[string]string {
	tags := NewTags(args...)
	for key, value := range l.baseTags {
		tags[key] = value
	}
	return tags
}

// CaptureError logs an error and reports it to Sentry.
func (l *Logger) CaptureError(err error, args ...any) {
	l.Error(err.Error(), args...)

	if l.sentry != nil {
		l.sentry.CaptureException(err, l.sentryTags(args...))
	}
}

// CaptureWarn logs a warning and reports it to Sentry.
func (l *Logger) CaptureWarn(msg string, args ...any) {
	l.Warn(msg, args...)

	if l.sentry != nil {
		l.sentry.CaptureMessage(msg, l.sentryTags(args...))
	}
}

// CaptureFatal logs a fatal error and reports it to Sentry.
//
// It does not exit the process. Use it when the component that hit the
// error is about to stop working but the run should continue.
func (l *Logger) CaptureFatal(err error, args ...any) {
	l.Log(context.Background(), LevelFatal, err.Error(), args...)

	if l.sentry != nil {
		l.sentry.CaptureException(err, l.sentryTags(args...))
	}
}

// NewNoOpLogger returns a logger that discards all messages.
//
// Used for testing.
func NewNoOpLogger() *Logger {
	return NewLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)
}
