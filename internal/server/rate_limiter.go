package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows capacity frames per interval, refilled continuously,
// with bursts of up to capacity.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(capacity)/interval.Seconds()), capacity)
}
