// Package monitor samples system resources and logs them as run
// metrics.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/runhistory"
)

const defaultSamplingInterval = 15 * time.Second

// MetricPrefix is prepended to every sampled metric key.
const MetricPrefix = "sys"

// States of the SystemMonitor.
const (
	StateStopped int32 = iota
	StateRunning
	StatePaused
)

// Resource is one monitored system resource.
type Resource interface {
	// Name identifies the resource in logs.
	Name() string

	// Sample returns the resource's current metric values.
	Sample() (map[string]float64, error)
}

// Sink receives sampled metrics, already prefixed.
type Sink func(metrics map[string]float64)

// SystemMonitor periodically samples system metrics and forwards
// them to a sink.
type SystemMonitor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state atomic.Int32

	resources []Resource
	sink      Sink

	samplingInterval time.Duration
	logger           *observability.Logger
}

type Params struct {
	Ctx context.Context

	// Sink receives each sample batch.
	Sink Sink

	// Resources to monitor. Nil means the default set (CPU, memory,
	// disk, network).
	Resources []Resource

	// SamplingInterval between samples. Zero means the default.
	SamplingInterval time.Duration

	Logger *observability.Logger
}

func NewSystemMonitor(params Params) *SystemMonitor {
	if params.Ctx == nil {
		params.Ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(params.Ctx)

	sm := &SystemMonitor{
		ctx:              ctx,
		cancel:           cancel,
		resources:        params.Resources,
		sink:             params.Sink,
		samplingInterval: params.SamplingInterval,
		logger:           params.Logger,
	}
	if sm.samplingInterval == 0 {
		sm.samplingInterval = defaultSamplingInterval
	}
	if sm.resources == nil {
		sm.resources = DefaultResources()
	}

	return sm
}

// DefaultResources returns the built-in resource set.
func DefaultResources() []Resource {
	return []Resource{
		NewCPU(),
		NewMemory(),
		NewDisk("/"),
		NewNetwork(),
	}
}

// Start begins sampling in the background.
func (sm *SystemMonitor) Start() {
	if sm == nil || !sm.state.CompareAndSwap(StateStopped, StateRunning) {
		return
	}

	sm.logger.Debug(
		"monitor: starting",
		"interval", sm.samplingInterval,
		"resources", len(sm.resources),
	)

	for _, resource := range sm.resources {
		sm.wg.Add(1)
		go func(resource Resource) {
			defer sm.wg.Done()
			sm.sampleLoop(resource)
		}(resource)
	}
}

// Pause suspends sampling without stopping the goroutines.
func (sm *SystemMonitor) Pause() {
	sm.state.CompareAndSwap(StateRunning, StatePaused)
}

// Resume continues sampling after a pause.
func (sm *SystemMonitor) Resume() {
	sm.state.CompareAndSwap(StatePaused, StateRunning)
}

// Finish stops sampling and waits for the loops to exit.
func (sm *SystemMonitor) Finish() {
	if sm == nil || sm.state.Swap(StateStopped) == StateStopped {
		return
	}
	sm.cancel()
	sm.wg.Wait()
	sm.logger.Debug("monitor: stopped")
}

func (sm *SystemMonitor) sampleLoop(resource Resource) {
	ticker := time.NewTicker(sm.samplingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
		}

		if sm.state.Load() != StateRunning {
			continue
		}

		metrics, err := resource.Sample()
		if err != nil {
			sm.logger.Warn(
				"monitor: failed to sample resource",
				"resource", resource.Name(),
				"error", err,
			)
			continue
		}
		if len(metrics) == 0 {
			continue
		}

		prefixed := make(map[string]float64, len(metrics))
		for key, value := range metrics {
			prefixed[runhistory.PrefixKey(MetricPrefix, key)] = value
		}
		sm.sink(prefixed)
	}
}
