// Package uplink is the buffered upload pipeline shared by the
// network backends.
//
// Add-style calls fold into a mergeable request buffer, a collect
// stage batches buffered data under a rate limit, and a transmit
// stage sends batches through the backend's Sender. A fatal transmit
// error kills the pipeline: further updates are dropped for upload
// but remain in the run's local files.
package uplink

import (
	"fmt"
	"sync"
	"time"

	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/waiting"
	"golang.org/x/time/rate"
)

const (
	bufferSize               = 32
	defaultMaxRecords        = 1000
	defaultHeartbeatInterval = 30 * time.Second
)

// Sender performs the service-specific network calls for one backend.
type Sender interface {
	// Send uploads one batch. A returned error is fatal to the
	// pipeline; transient failures must be retried internally.
	Send(req *Request) error

	// SendHeartbeat tells the service the run is still alive. It is
	// called when no data has been sent for the heartbeat interval.
	SendHeartbeat() error
}

type Params struct {
	Sender  Sender
	Logger  *observability.Logger
	Printer *observability.Printer

	// TransmitRateLimit bounds how often batches are sent.
	TransmitRateLimit *rate.Limiter

	// MaxRecordsPerRequest splits oversized batches. Zero means the
	// default.
	MaxRecordsPerRequest int

	// HeartbeatStopwatch schedules liveness heartbeats. Nil means the
	// default interval.
	HeartbeatStopwatch waiting.Stopwatch
}

// Uplink streams a run's data to one backend.
type Uplink struct {
	sender  Sender
	logger  *observability.Logger
	printer *observability.Printer

	transmitRateLimit *rate.Limiter
	maxRecords        int
	heartbeat         waiting.Stopwatch

	processChan chan *Request
	done        chan struct{}
	wg          sync.WaitGroup

	deadChan     chan struct{}
	deadChanOnce sync.Once
}

func New(params Params) *Uplink {
	switch {
	case params.Sender == nil:
		panic("uplink: nil sender")
	case params.Logger == nil:
		panic("uplink: nil logger")
	case params.TransmitRateLimit == nil:
		panic("uplink: nil rate limit")
	}

	u := &Uplink{
		sender:            params.Sender,
		logger:            params.Logger,
		printer:           params.Printer,
		transmitRateLimit: params.TransmitRateLimit,
		maxRecords:        params.MaxRecordsPerRequest,
		heartbeat:         params.HeartbeatStopwatch,
		processChan:       make(chan *Request, bufferSize),
		done:              make(chan struct{}),
		deadChan:          make(chan struct{}),
	}
	if u.maxRecords <= 0 {
		u.maxRecords = defaultMaxRecords
	}
	if u.heartbeat == nil {
		u.heartbeat = waiting.NewStopwatch(defaultHeartbeatInterval)
	}

	return u
}

// Start begins uploading in the background.
func (u *Uplink) Start() {
	transmitChan := u.startCollecting(u.processChan)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.transmit(transmitChan)
	}()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.sendHeartbeats()
	}()
}

// Push queues a request for upload. It is a no-op if the pipeline is
// dead.
func (u *Uplink) Push(req *Request) {
	select {
	case u.processChan <- req:
	case <-u.deadChan:
	}
}

// Finish marks the run complete and blocks until uploads drain.
func (u *Uplink) Finish(exitCode int32) {
	u.Push(&Request{ExitCode: &exitCode})
	close(u.processChan)
	close(u.done)
	u.wg.Wait()
	u.logger.Debug("uplink: closed")
}

func (u *Uplink) transmit(transmitChan <-chan *Request) {
	for req := range transmitChan {
		if u.isDead() {
			continue
		}

		u.heartbeat.Reset()
		if err := u.sender.Send(req); err != nil {
			u.logFatalAndStopWorking(err)
		}
	}
}

func (u *Uplink) sendHeartbeats() {
	for {
		hit, cancel := u.heartbeat.Wait()
		select {
		case <-u.done:
			cancel()
			return
		case <-u.deadChan:
			cancel()
			return
		case <-hit:
		}

		u.heartbeat.Reset()
		if err := u.sender.SendHeartbeat(); err != nil {
			u.logger.CaptureError(
				fmt.Errorf("uplink: heartbeat failed: %v", err))
		}
	}
}

// logFatalAndStopWorking logs a fatal error and kills the pipeline.
//
// After this, pushes are dropped. Data is still written to the run's
// local files, so nothing is lost on disk.
func (u *Uplink) logFatalAndStopWorking(err error) {
	u.logger.CaptureFatal(fmt.Errorf("uplink: fatal error: %v", err))
	u.deadChanOnce.Do(func() {
		close(u.deadChan)
		if u.printer != nil {
			u.printer.Write(
				"Fatal error while uploading data. Some run data will" +
					" not be synced, but it is saved locally and can be" +
					" uploaded later with `vistream sync`.",
			)
		}
	})
}

// isDead reports whether the pipeline has been killed.
func (u *Uplink) isDead() bool {
	select {
	case <-u.deadChan:
		return true
	default:
		return false
	}
}
