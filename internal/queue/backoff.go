package queue

import (
	"math/rand"
	"time"
)

// Retry policy for transcription jobs. Attempts are counted per message via
// a broker header; after MaxAttempts the job is dropped as failed.
const (
	MaxAttempts = 5

	baseBackoff = 5 * time.Second
	maxBackoff  = 10 * time.Minute
)

// BackoffDelay returns the delay before redelivering a message on its n-th
// retry (n starts at 1). Exponential with a cap, plus up to 25% jitter so a
// burst of failures does not redeliver in lockstep.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff << uint(attempt-1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}
