package randomid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vistream/vistream/internal/randomid"
)

func TestNew_Length(t *testing.T) {
	assert.Len(t, randomid.New(11), 11)
}

func TestNew_Alphabet(t *testing.T) {
	id := randomid.New(256)

	for _, c := range id {
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		assert.True(t, isLower || isDigit, "unexpected character %q", c)
	}
}

func TestNewRunID_Unique(t *testing.T) {
	seen := make(map[string]bool)

	for range 100 {
		id := randomid.NewRunID()
		assert.Len(t, id, randomid.RunIDLength)
		assert.False(t, seen[id], "duplicate run ID %q", id)
		seen[id] = true
	}
}
