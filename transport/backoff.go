package transport

import (
	"math"
	"math/rand"
	"time"
)

// reconnector computes exponential backoff delays for reconnect attempts:
// base * 2^attempt plus up to 50% jitter, capped at max. The attempt counter
// resets once a connection has stayed up for stableAfter, so a long-lived
// session that drops gets a fast first retry instead of paying for flaps
// from hours ago.
type reconnector struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int // 0 = unlimited
	stableAfter time.Duration

	attempt     int
	connectedAt time.Time
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
		stableAfter: 60 * time.Second,
	}
}

// shouldRetry reports whether the retry budget allows another attempt.
func (r *reconnector) shouldRetry() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

// markConnected records a successful connect for stability tracking.
func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay returns the delay to wait before the next attempt and advances
// the attempt counter.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > r.stableAfter {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.base) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.base)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.max),
	))
	r.attempt++
	return delay
}
