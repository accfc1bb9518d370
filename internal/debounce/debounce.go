// Package debounce rate-limits repetitive uploads such as summary
// updates.
package debounce

import (
	"github.com/vistream/vistream/internal/observability"
	"golang.org/x/time/rate"
)

// Debouncer invokes a callback at most as often as its rate limit
// allows, and only when there is dirty state to flush.
type Debouncer struct {
	limiter *rate.Limiter
	dirty   bool
	stopped bool
	logger  *observability.Logger
}

func New(
	eventRate rate.Limit,
	burst int,
	logger *observability.Logger,
) *Debouncer {
	return &Debouncer{
		limiter: rate.NewLimiter(eventRate, burst),
		logger:  logger,
	}
}

// Mark records that there is state to flush.
func (d *Debouncer) Mark() {
	if d == nil {
		return
	}
	d.dirty = true
}

// Maybe calls f if there is dirty state and the rate limit allows it.
func (d *Debouncer) Maybe(f func()) {
	if d == nil || d.stopped {
		return
	}
	if !d.dirty || !d.limiter.Allow() {
		return
	}
	d.Flush(f)
}

// Flush calls f if there is dirty state, ignoring the rate limit.
func (d *Debouncer) Flush(f func()) {
	if d == nil || d.stopped {
		return
	}
	if d.dirty {
		d.logger.Debug("debounce: flushing")
		f()
		d.dirty = false
	}
}

// Stop makes all future debounce operations no-ops.
func (d *Debouncer) Stop() {
	if d == nil {
		return
	}
	d.stopped = true
}
