package transport

import (
	"math"
	"math/rand/v2"
	"time"
)

// stableAfter is how long a connection must stay up before the attempt
// counter starts over.
const stableAfter = 60 * time.Second

// reconnector computes exponential backoff with jitter. Not safe for
// concurrent use; Adapter guards it with its mutex.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(base, maxDelay time.Duration, maxAttempts int) *reconnector {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &reconnector{baseDelay: base, maxDelay: maxDelay, maxAttempts: maxAttempts}
}

// shouldReconnect reports whether another attempt is allowed. Zero
// maxAttempts means unlimited.
func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stableAfter {
		r.attempt = 0
		r.connectedAt = time.Time{}
	}
	jitter := rand.Float64() * float64(r.baseDelay) * 0.5
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+jitter,
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}
