package gateway

import (
	"sync"
	"time"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultMaxInFlight       = 10

	reasonTooManyConcurrent = "too many concurrent requests"
	reasonRateLimited       = "rate limit exceeded"
)

// ClientRateLimiter limits one client to a sliding window of requests per
// minute and a number of tasks in flight.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxInFlight       int
	requests          []time.Time
	inFlight          int
	now               func() time.Time
}

// NewClientRateLimiter creates a new rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(DefaultRequestsPerMinute, DefaultMaxInFlight)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits.
// Non-positive limits fall back to the defaults.
func NewClientRateLimiterWithLimits(requestsPerMinute, maxInFlight int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxInFlight:       maxInFlight,
		now:               time.Now,
	}
}

// Acquire admits one request, recording it in the window and counting it
// in flight. On rejection it returns false with the reason and records
// nothing.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxInFlight {
		return false, reasonTooManyConcurrent
	}

	now := r.now()
	r.prune(now)
	if len(r.requests) >= r.requestsPerMinute {
		return false, reasonRateLimited
	}

	r.requests = append(r.requests, now)
	r.inFlight++
	return true, ""
}

// Release marks one admitted request as finished.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// GetStats returns the requests in the current window and the number in flight.
func (r *ClientRateLimiter) GetStats() (requestCount, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.inFlight
}

func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.requests[:0]
	for _, at := range r.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	r.requests = kept
}
