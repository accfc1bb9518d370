package monitor_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/monitor"
	"github.com/vistream/vistream/internal/observability"
)

// fakeResource reports a fixed metric.
type fakeResource struct {
	name  string
	value float64
}

func (r *fakeResource) Name() string { return r.name }

func (r *fakeResource) Sample() (map[string]float64, error) {
	return map[string]float64{r.name + ".value": r.value}, nil
}

// metricsCollector is a Sink that accumulates sampled batches.
type metricsCollector struct {
	mu      sync.Mutex
	batches []map[string]float64
}

func (c *metricsCollector) sink(metrics map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, metrics)
}

func (c *metricsCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *metricsCollector) last() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil
	}
	return c.batches[len(c.batches)-1]
}

func TestSystemMonitor_SamplesAndPrefixes(t *testing.T) {
	collector := &metricsCollector{}
	sm := monitor.NewSystemMonitor(monitor.Params{
		Sink:             collector.sink,
		Resources:        []monitor.Resource{&fakeResource{name: "gpu", value: 0.5}},
		SamplingInterval: 5 * time.Millisecond,
		Logger:           observability.NewNoOpLogger(),
	})

	sm.Start()
	require.Eventually(t,
		func() bool { return collector.count() > 0 },
		time.Second, time.Millisecond)
	sm.Finish()

	assert.Equal(t,
		map[string]float64{"sys/gpu.value": 0.5},
		collector.last())
}

func TestSystemMonitor_PauseStopsSamples(t *testing.T) {
	collector := &metricsCollector{}
	sm := monitor.NewSystemMonitor(monitor.Params{
		Sink:             collector.sink,
		Resources:        []monitor.Resource{&fakeResource{name: "cpu"}},
		SamplingInterval: time.Millisecond,
		Logger:           observability.NewNoOpLogger(),
	})

	sm.Start()
	require.Eventually(t,
		func() bool { return collector.count() > 0 },
		time.Second, time.Millisecond)

	sm.Pause()
	paused := collector.count()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, collector.count(), paused+1)

	sm.Resume()
	require.Eventually(t,
		func() bool { return collector.count() > paused+1 },
		time.Second, time.Millisecond)

	sm.Finish()
}

func TestSystemMonitor_FinishIsIdempotent(t *testing.T) {
	sm := monitor.NewSystemMonitor(monitor.Params{
		Sink:      func(map[string]float64) {},
		Resources: []monitor.Resource{&fakeResource{name: "cpu"}},
		Logger:    observability.NewNoOpLogger(),
	})

	sm.Start()
	sm.Finish()
	sm.Finish()
}

func TestSystemMonitor_NilIsSafe(t *testing.T) {
	var sm *monitor.SystemMonitor

	sm.Start()
	sm.Finish()
}
