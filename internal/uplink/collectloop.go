package uplink

import "time"

// startCollecting batches incoming requests under the rate limit and
// outputs bounded-size requests for transmission.
func (u *Uplink) startCollecting(requests <-chan *Request) <-chan *Request {
	output := make(chan *Request)

	go func() {
		defer close(output)

		for request := range requests {
			buffer := &Request{}
			buffer.Merge(request)

			u.waitForRateLimit(buffer, requests)

			for _, chunk := range buffer.Split(u.maxRecords) {
				output <- chunk
			}
		}
	}()

	return output
}

// waitForRateLimit merges incoming requests into the buffer until the
// rate limit allows a transmission.
func (u *Uplink) waitForRateLimit(
	buffer *Request,
	requests <-chan *Request,
) {
	if u.shouldSendASAP(buffer) {
		return
	}

	reservation := u.transmitRateLimit.Reserve()

	// If we would be rate-limited forever, just ignore the limit.
	if !reservation.OK() {
		return
	}

	for {
		timer := time.NewTimer(reservation.Delay())
		select {
		case <-timer.C:
			return

		case request, ok := <-requests:
			_ = timer.Stop()

			if !ok {
				return
			}

			buffer.Merge(request)

			if u.shouldSendASAP(buffer) {
				return
			}
		}
	}
}

// shouldSendASAP returns whether a request must go out regardless of
// the rate limit.
func (u *Uplink) shouldSendASAP(request *Request) bool {
	switch {
	// A full-size batch should not keep growing in memory.
	case len(request.Records) >= u.maxRecords:
		return true

	// The exit record is the last thing a process sends; don't make
	// shutdown wait on the rate limiter.
	case request.ExitCode != nil:
		return true

	default:
		return false
	}
}
