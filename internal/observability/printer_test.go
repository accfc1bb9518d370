package observability_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vistream/vistream/internal/observability"
)

func TestRead_DrainsMessages(t *testing.T) {
	p := observability.NewPrinter()

	p.Write("one")
	p.Writef("two: %d", 2)

	assert.Equal(t, []string{"one", "two: 2"}, p.Read())
	assert.Empty(t, p.Read())
}

func TestWritefRateLimited_SuppressesRepeats(t *testing.T) {
	p := observability.NewPrinter()

	p.WritefRateLimited(time.Hour, "warning %d", 1)
	p.WritefRateLimited(time.Hour, "warning %d", 2)
	p.WritefRateLimited(time.Hour, "other %d", 3)

	assert.Equal(t, []string{"warning 1", "other 3"}, p.Read())
}
