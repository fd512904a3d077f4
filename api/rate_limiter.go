package api

import (
	"strings"
	"sync"
	"time"
)

// RateLimitPolicy describes one sliding-window throttle: at most MaxEvents
// per Window. Cursor updates and content edits carry independent policies.
type RateLimitPolicy struct {
	MaxEvents int
	Window    time.Duration
}

// staleKeyCleanupInterval controls how often fully expired keys are swept out
const staleKeyCleanupInterval = 5 * time.Minute

// SlidingWindowRateLimiter implements per-key sliding window rate limiting
// over in-memory timestamp lists. Session state is process-local, so the
// limiter is too; keys are "<connection>:<event class>" strings.
type SlidingWindowRateLimiter struct {
	mu          sync.Mutex
	events      map[string][]time.Time
	lastCleanup time.Time

	// maxWindow is the widest policy window seen so far; the stale-key
	// sweep uses it so a short-window caller never clips entries that a
	// longer-window key still counts
	maxWindow time.Duration

	// now is injectable for tests
	now func() time.Time
}

// NewSlidingWindowRateLimiter creates an empty rate limiter
func NewSlidingWindowRateLimiter() *SlidingWindowRateLimiter {
	return &SlidingWindowRateLimiter{
		events:      make(map[string][]time.Time),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow checks whether key may emit another event under policy. The event
// timestamp is recorded only when allowed, so rejected events do not extend
// the window.
func (r *SlidingWindowRateLimiter) Allow(key string, policy RateLimitPolicy) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-policy.Window)

	if policy.Window > r.maxWindow {
		r.maxWindow = policy.Window
	}

	// Periodically prune keys whose entries have all expired
	if now.Sub(r.lastCleanup) > staleKeyCleanupInterval {
		r.cleanupLocked(now.Add(-r.maxWindow))
		r.lastCleanup = now
	}

	// Prune expired entries for this key
	existing := r.events[key]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= policy.MaxEvents {
		r.events[key] = pruned
		return false
	}

	r.events[key] = append(pruned, now)
	return true
}

// Forget drops all windows whose key begins with prefix. Called on
// disconnect so departed connections do not accumulate state.
func (r *SlidingWindowRateLimiter) Forget(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.events {
		if strings.HasPrefix(key, prefix) {
			delete(r.events, key)
		}
	}
}

// KeyCount returns the number of tracked keys, for tests and metrics
func (r *SlidingWindowRateLimiter) KeyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// cleanupLocked removes keys with no entries newer than cutoff. Caller holds mu.
func (r *SlidingWindowRateLimiter) cleanupLocked(cutoff time.Time) {
	for key, times := range r.events {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(r.events, key)
		}
	}
}
