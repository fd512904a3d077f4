package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowRateLimiter(t *testing.T) {
	policy := RateLimitPolicy{MaxEvents: 3, Window: time.Second}

	t.Run("allows up to max events", func(t *testing.T) {
		limiter := NewSlidingWindowRateLimiter()

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("conn-1:edit", policy), "event %d should be allowed", i)
		}
		assert.False(t, limiter.Allow("conn-1:edit", policy))
	})

	t.Run("rejected events do not extend the window", func(t *testing.T) {
		now := time.Now()
		limiter := NewSlidingWindowRateLimiter()
		limiter.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("k", policy))
		}
		// Hammer while limited
		for i := 0; i < 10; i++ {
			assert.False(t, limiter.Allow("k", policy))
		}

		// Once the window passes the original three, new events succeed
		now = now.Add(1100 * time.Millisecond)
		assert.True(t, limiter.Allow("k", policy))
	})

	t.Run("window slides rather than resets", func(t *testing.T) {
		now := time.Now()
		limiter := NewSlidingWindowRateLimiter()
		limiter.now = func() time.Time { return now }

		assert.True(t, limiter.Allow("k", policy))
		now = now.Add(500 * time.Millisecond)
		assert.True(t, limiter.Allow("k", policy))
		assert.True(t, limiter.Allow("k", policy))
		assert.False(t, limiter.Allow("k", policy))

		// 600ms later the first event has aged out but not the other two
		now = now.Add(600 * time.Millisecond)
		assert.True(t, limiter.Allow("k", policy))
		assert.False(t, limiter.Allow("k", policy))
	})

	t.Run("keys are independent", func(t *testing.T) {
		limiter := NewSlidingWindowRateLimiter()

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("a:edit", policy))
		}
		assert.False(t, limiter.Allow("a:edit", policy))
		assert.True(t, limiter.Allow("b:edit", policy))
	})

	t.Run("independent policies per event class", func(t *testing.T) {
		limiter := NewSlidingWindowRateLimiter()
		cursor := RateLimitPolicy{MaxEvents: 30, Window: time.Second}
		edit := RateLimitPolicy{MaxEvents: 10, Window: time.Second}

		for i := 0; i < 10; i++ {
			assert.True(t, limiter.Allow("c:edit", edit))
		}
		assert.False(t, limiter.Allow("c:edit", edit))

		// The same connection's cursor class is untouched
		for i := 0; i < 30; i++ {
			assert.True(t, limiter.Allow("c:cursor", cursor))
		}
		assert.False(t, limiter.Allow("c:cursor", cursor))
	})
}

func TestSlidingWindowRateLimiterForget(t *testing.T) {
	limiter := NewSlidingWindowRateLimiter()
	policy := RateLimitPolicy{MaxEvents: 1, Window: time.Minute}

	assert.True(t, limiter.Allow("conn-1:edit", policy))
	assert.True(t, limiter.Allow("conn-1:cursor", policy))
	assert.True(t, limiter.Allow("conn-2:edit", policy))
	assert.Equal(t, 3, limiter.KeyCount())

	limiter.Forget("conn-1:")

	assert.Equal(t, 1, limiter.KeyCount())
	// Forgotten keys start a fresh window
	assert.True(t, limiter.Allow("conn-1:edit", policy))
	// Unrelated connection state survives
	assert.False(t, limiter.Allow("conn-2:edit", policy))
}

func TestSlidingWindowRateLimiterStaleCleanup(t *testing.T) {
	now := time.Now()
	limiter := NewSlidingWindowRateLimiter()
	limiter.now = func() time.Time { return now }
	limiter.lastCleanup = now
	policy := RateLimitPolicy{MaxEvents: 5, Window: time.Second}

	for i := 0; i < 100; i++ {
		limiter.Allow(fmt.Sprintf("conn-%d:edit", i), policy)
	}
	assert.Equal(t, 100, limiter.KeyCount())

	// Past the cleanup interval every old key has expired; the next
	// check sweeps them all out
	now = now.Add(staleKeyCleanupInterval + time.Second)
	limiter.Allow("fresh:edit", policy)
	assert.Equal(t, 1, limiter.KeyCount())
}

func TestSlidingWindowRateLimiterCleanupMixedWindows(t *testing.T) {
	now := time.Now()
	limiter := NewSlidingWindowRateLimiter()
	limiter.now = func() time.Time { return now }
	limiter.lastCleanup = now

	longPolicy := RateLimitPolicy{MaxEvents: 2, Window: 10 * time.Minute}
	shortPolicy := RateLimitPolicy{MaxEvents: 5, Window: time.Second}

	assert.True(t, limiter.Allow("conn-1:join", longPolicy))
	assert.True(t, limiter.Allow("conn-1:join", longPolicy))
	assert.False(t, limiter.Allow("conn-1:join", longPolicy))

	// A short-window check past the cleanup interval triggers the stale
	// sweep; the long-window key's entries are still live and must keep
	// counting against its budget
	now = now.Add(staleKeyCleanupInterval + time.Second)
	assert.True(t, limiter.Allow("conn-1:cursor", shortPolicy))

	assert.False(t, limiter.Allow("conn-1:join", longPolicy),
		"a sweep under a narrower window must not reset a wider window's budget")
}
