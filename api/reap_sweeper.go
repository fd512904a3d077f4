package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/codeloft/codeloft/internal/slogging"
)

// ReapSweeper periodically removes session members who have gone idle
// without a clean leave (network drop, crashed client). It is an
// advisory bound orthogonal to LRU capacity eviction: a session within
// capacity can still carry members who joined and never interacted.
//
// The sweeper is owned and started by the server, never by package
// side effects, and its interval is injectable for tests.
type ReapSweeper struct {
	registry  *SessionRegistry
	interval  time.Duration
	threshold time.Duration

	running  atomic.Bool
	stopChan chan struct{}

	// now is injectable for tests
	now func() time.Time
}

// NewReapSweeper creates a sweeper that runs every interval and removes
// members idle longer than threshold.
func NewReapSweeper(registry *SessionRegistry, interval, threshold time.Duration) *ReapSweeper {
	return &ReapSweeper{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins sweeping in a background goroutine
func (w *ReapSweeper) Start(ctx context.Context) error {
	logger := slogging.Get()

	w.running.Store(true)
	logger.Info("reap sweeper started (interval %v, threshold %v)", w.interval, w.threshold)

	go w.processLoop(ctx)

	return nil
}

// Stop gracefully stops the sweeper. Safe to call more than once and
// concurrently with the sweep loop.
func (w *ReapSweeper) Stop() {
	if w.running.CompareAndSwap(true, false) {
		close(w.stopChan)
		slogging.Get().Info("reap sweeper stopped")
	}
}

// processLoop runs sweeps until stopped
func (w *ReapSweeper) processLoop(ctx context.Context) {
	logger := slogging.Get()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for w.running.Load() {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, stopping reap sweeper")
			return
		case <-w.stopChan:
			logger.Info("stop signal received, stopping reap sweeper")
			return
		case <-ticker.C:
			if reaped := w.Sweep(); reaped > 0 {
				logger.Info("reap sweeper removed %d idle members", reaped)
			}
		}
	}
}

// Sweep removes idle members from every session and returns how many
// were removed. Each session is processed under its own lock, so sweeps
// run safely alongside ordinary join/leave traffic.
func (w *ReapSweeper) Sweep() int {
	cutoff := w.now().Add(-w.threshold)
	reaped := 0

	for _, fileID := range w.registry.FileIDs() {
		sess, ok := w.registry.lockPeek(fileID)
		if !ok {
			continue
		}

		var idle []*SessionMember
		for _, m := range sess.members {
			if m.LastActivity.Before(cutoff) {
				idle = append(idle, m)
			}
		}

		for _, m := range idle {
			sess.leave(m.UserID)
			left := UserLeftMessage{
				MessageType: MessageTypeUserLeft,
				FileID:      fileID,
				UserID:      m.UserID,
				Username:    m.Username,
				ActiveUsers: sess.memberCount() - 1,
				Reason:      LeaveReasonIdle,
			}
			for _, other := range sess.others(m.UserID) {
				other.conn.Enqueue(left)
			}
			reaped++
		}

		empty := sess.memberCount() == 0
		sess.mu.Unlock()

		if len(idle) > 0 {
			reapedMembersTotal.Add(float64(len(idle)))
			slogging.Get().Debug("reaped %d idle members from file %s", len(idle), fileID)
		}
		if empty {
			w.registry.destroyIfEmpty(fileID)
		}
	}

	return reaped
}
