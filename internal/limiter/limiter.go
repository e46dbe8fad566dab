// Package limiter implements sliding-window event counters used to cap OTP issuance.
package limiter

import (
	"context"
	"crypto/sha256"
	"strings"
	"time"
)

// Limiter counts events per key within a window.
type Limiter interface {
	// Hit records one event for key at now and returns the number of events
	// in the trailing window, including this one. Recording and counting happen
	// in one atomic step.
	Hit(ctx context.Context, key []byte, now time.Time) (int, error)
}

// Key returns a stable hash for the given parts to avoid storing raw phone numbers.
func Key(parts ...string) []byte {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return h[:]
}
