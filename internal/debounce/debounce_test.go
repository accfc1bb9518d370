package debounce_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vistream/vistream/internal/debounce"
	"github.com/vistream/vistream/internal/observability"
	"golang.org/x/time/rate"
)

func TestMaybe_RespectsRateLimit(t *testing.T) {
	d := debounce.New(rate.Every(time.Hour), 1, observability.NewNoOpLogger())
	calls := 0

	d.Mark()
	d.Maybe(func() { calls++ })
	d.Mark()
	d.Maybe(func() { calls++ })

	assert.Equal(t, 1, calls)
}

func TestMaybe_NoopWithoutMark(t *testing.T) {
	d := debounce.New(rate.Inf, 1, observability.NewNoOpLogger())
	calls := 0

	d.Maybe(func() { calls++ })

	assert.Zero(t, calls)
}

func TestFlush_IgnoresRateLimit(t *testing.T) {
	d := debounce.New(rate.Every(time.Hour), 1, observability.NewNoOpLogger())
	calls := 0

	d.Mark()
	d.Maybe(func() { calls++ })
	d.Mark()
	d.Flush(func() { calls++ })

	assert.Equal(t, 2, calls)
}

func TestFlush_ClearsDirtyState(t *testing.T) {
	d := debounce.New(rate.Inf, 1, observability.NewNoOpLogger())
	calls := 0

	d.Mark()
	d.Flush(func() { calls++ })
	d.Flush(func() { calls++ })

	assert.Equal(t, 1, calls)
}

func TestStop(t *testing.T) {
	d := debounce.New(rate.Inf, 1, observability.NewNoOpLogger())
	calls := 0

	d.Mark()
	d.Stop()
	d.Maybe(func() { calls++ })
	d.Flush(func() { calls++ })

	assert.Zero(t, calls)
}
