package observability

import (
	"fmt"
	"sync"
	"time"
)

// Printer buffers console messages to display to the user.
//
// Code running in background goroutines writes here instead of printing
// directly, and the process's frontend polls Read.
type Printer struct {
	mu       sync.Mutex
	messages []string

	// nextAllowed is the earliest time a rate-limited message may repeat,
	// keyed by its format string.
	nextAllowed map[string]time.Time

	// now allows stubbing out time.Now in tests.
	now func() time.Time
}

func NewPrinter() *Printer {
	return &Printer{
		nextAllowed: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Read returns all buffered messages and clears the buffer.
func (p *Printer) Read() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	messages := p.messages
	p.messages = nil
	return messages
}

// Write adds a message to the console.
func (p *Printer) Write(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

// Writef adds a Sprintf-formatted message to the console.
func (p *Printer) Writef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, fmt.Sprintf(format, args...))
}

// WritefRateLimited adds a formatted message unless the same format
// string was printed less than period ago.
func (p *Printer) WritefRateLimited(
	period time.Duration,
	format string,
	args ...any,
) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Before(p.nextAllowed[format]) {
		return
	}
	p.nextAllowed[format] = now.Add(period)

	p.messages = append(p.messages, fmt.Sprintf(format, args...))
}
