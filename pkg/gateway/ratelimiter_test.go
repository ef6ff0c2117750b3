package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(10, 5)

		for i := 0; i < 5; i++ {
			allowed, reason := limiter.Acquire()
			assert.True(t, allowed)
			assert.Empty(t, reason)
		}
	})

	t.Run("should reject when in-flight limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(100, 3)

		for i := 0; i < 3; i++ {
			allowed, _ := limiter.Acquire()
			require.True(t, allowed)
		}

		allowed, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, reasonTooManyConcurrent, reason)

		limiter.Release()
		allowed, _ = limiter.Acquire()
		assert.True(t, allowed)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(5, 10)

		for i := 0; i < 5; i++ {
			allowed, _ := limiter.Acquire()
			require.True(t, allowed)
			limiter.Release()
		}

		allowed, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, reasonRateLimited, reason)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		now := time.Now()
		limiter := NewClientRateLimiterWithLimits(2, 10)
		limiter.now = func() time.Time { return now }

		for i := 0; i < 2; i++ {
			allowed, _ := limiter.Acquire()
			require.True(t, allowed)
			limiter.Release()
		}
		allowed, _ := limiter.Acquire()
		assert.False(t, allowed)

		now = now.Add(61 * time.Second)
		allowed, _ = limiter.Acquire()
		assert.True(t, allowed)
	})
}

func TestClientRateLimiter_Stats(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(100, 10)

	limiter.Acquire()
	limiter.Acquire()
	requests, inFlight := limiter.GetStats()
	assert.Equal(t, 2, requests)
	assert.Equal(t, 2, inFlight)

	limiter.Release()
	limiter.Release()
	limiter.Release()
	_, inFlight = limiter.GetStats()
	assert.Equal(t, 0, inFlight, "release never goes negative")
}

func TestClientRateLimiter_Defaults(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(0, -1)
	assert.Equal(t, DefaultRequestsPerMinute, limiter.requestsPerMinute)
	assert.Equal(t, DefaultMaxInFlight, limiter.maxInFlight)
}

func TestAuthHandler(t *testing.T) {
	t.Run("disabled without secret", func(t *testing.T) {
		a := NewAuthHandler("  ")
		assert.False(t, a.Enabled())
		assert.True(t, a.Authorize(httptest.NewRequest("GET", "/ws", nil)))
	})

	t.Run("header and query", func(t *testing.T) {
		a := NewAuthHandler("topsecret")

		r := httptest.NewRequest("GET", "/ws", nil)
		assert.False(t, a.Authorize(r))

		r.Header.Set(SecretHeader, "topsecret")
		assert.True(t, a.Authorize(r))

		r.Header.Set(SecretHeader, "wrong")
		assert.False(t, a.Authorize(r))

		assert.True(t, a.Authorize(httptest.NewRequest("GET", "/ws?secret=topsecret", nil)))
		assert.False(t, a.Authorize(httptest.NewRequest("GET", "/ws?secret=nope", nil)))
	})
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"minimal", `{"text":"hi"}`, false},
		{"full", `{"event_id":"1","thread":"t","requester_id":"u","text":"hi"}`, false},
		{"missing text", `{"event_id":"1"}`, true},
		{"unknown field", `{"text":"hi","extra":true}`, true},
		{"wrong type", `{"text":["hi"]}`, true},
		{"not json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
