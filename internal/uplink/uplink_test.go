package uplink_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/uplink"
	"golang.org/x/time/rate"
)

// fakeSender records every batch it is asked to send.
type fakeSender struct {
	mu       sync.Mutex
	requests []*uplink.Request
	sendErr  error
}

func (s *fakeSender) Send(req *uplink.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.sendErr
}

func (s *fakeSender) SendHeartbeat() error { return nil }

func (s *fakeSender) sent() []*uplink.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func newTestUplink(sender uplink.Sender) *uplink.Uplink {
	return uplink.New(uplink.Params{
		Sender:            sender,
		Logger:            observability.NewNoOpLogger(),
		Printer:           observability.NewPrinter(),
		TransmitRateLimit: rate.NewLimiter(rate.Inf, 1),
	})
}

func TestUplink_DeliversRecordsInOrder(t *testing.T) {
	sender := &fakeSender{}
	u := newTestUplink(sender)
	u.Start()

	u.Push(&uplink.Request{Records: []string{"one"}})
	u.Push(&uplink.Request{Records: []string{"two"}})
	u.Push(&uplink.Request{Records: []string{"three"}})
	u.Finish(0)

	var records []string
	for _, req := range sender.sent() {
		records = append(records, req.Records...)
	}
	assert.Equal(t, []string{"one", "two", "three"}, records)
}

func TestUplink_SendsExitCodeLast(t *testing.T) {
	sender := &fakeSender{}
	u := newTestUplink(sender)
	u.Start()

	u.Push(&uplink.Request{Records: []string{"data"}})
	u.Finish(3)

	sent := sender.sent()
	require.NotEmpty(t, sent)

	last := sent[len(sent)-1]
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, int32(3), *last.ExitCode)

	for _, req := range sent[:len(sent)-1] {
		assert.Nil(t, req.ExitCode)
	}
}

func TestUplink_FatalErrorStopsUploads(t *testing.T) {
	sender := &fakeSender{sendErr: errors.New("service rejected the run")}
	printer := observability.NewPrinter()
	u := uplink.New(uplink.Params{
		Sender:            sender,
		Logger:            observability.NewNoOpLogger(),
		Printer:           printer,
		TransmitRateLimit: rate.NewLimiter(rate.Inf, 1),
	})
	u.Start()

	u.Push(&uplink.Request{Records: []string{"doomed"}})
	u.Finish(0)

	assert.NotEmpty(t, sender.sent())

	messages := printer.Read()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "vistream sync")
}

func TestNew_PanicsOnMissingDependencies(t *testing.T) {
	assert.Panics(t, func() {
		uplink.New(uplink.Params{
			Logger:            observability.NewNoOpLogger(),
			TransmitRateLimit: rate.NewLimiter(rate.Inf, 1),
		})
	})
	assert.Panics(t, func() {
		uplink.New(uplink.Params{
			Sender:            &fakeSender{},
			TransmitRateLimit: rate.NewLimiter(rate.Inf, 1),
		})
	})
	assert.Panics(t, func() {
		uplink.New(uplink.Params{
			Sender: &fakeSender{},
			Logger: observability.NewNoOpLogger(),
		})
	})
}
