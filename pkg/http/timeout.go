package http

import (
	"time"
)

// Timeout is the pair of deadlines applied to a raw connection. Connect bounds dialing and the TLS handshake,
// Read bounds every subsequent socket operation, writes included. A zero value means no deadline
type Timeout struct {
	Connect time.Duration
	Read    time.Duration
}

// NewTimeout applies a single value to both phases
func NewTimeout(d time.Duration) Timeout {
	return Timeout{Connect: d, Read: d}
}

// deadline converts a relative timeout into an absolute deadline, returning the zero time for no deadline
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
