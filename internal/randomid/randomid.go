// Package randomid generates run identifiers.
package randomid

import (
	"crypto/rand"
	"fmt"
)

const lowercaseAlphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// RunIDLength is the length of generated run identifiers.
const RunIDLength = 8

// New generates a random string of the given length using lowercase
// alphanumeric characters.
//
// It panics if the system's random source fails, which is not
// recoverable.
func New(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("randomid: rand error: %v", err))
	}

	for i := range b {
		b[i] = lowercaseAlphanumeric[int(b[i])%len(lowercaseAlphanumeric)]
	}
	return string(b)
}

// NewRunID generates an identifier for a run.
func NewRunID() string {
	return New(RunIDLength)
}
