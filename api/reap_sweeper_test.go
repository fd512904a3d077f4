package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapSweeperRemovesIdleMembers(t *testing.T) {
	b, registry := newTestBroadcaster(allowAllGate{}, defaultTestOptions())
	ctx := context.Background()

	base := time.Now()
	b.now = func() time.Time { return base }

	idle := newFakeConn("conn-idle", "user-idle", "ivy")
	active := newFakeConn("conn-active", "user-active", "alice")
	b.HandleJoin(ctx, idle, joinMessage("file-42", "user-idle", "ivy"))
	b.HandleJoin(ctx, active, joinMessage("file-42", "user-active", "alice"))

	// Only the active user keeps interacting
	b.now = func() time.Time { return base.Add(30 * time.Minute) }
	b.HandleEdit(active, editMessage("file-42", "user-active", `{}`))
	active.clear()
	idle.clear()

	sweeper := NewReapSweeper(registry, time.Minute, time.Hour)
	sweeper.now = func() time.Time { return base.Add(61 * time.Minute) }

	reaped := sweeper.Sweep()
	assert.Equal(t, 1, reaped)

	lefts := active.messagesOfType(MessageTypeUserLeft)
	require.Len(t, lefts, 1)
	left := lefts[0].(UserLeftMessage)
	assert.Equal(t, "user-idle", left.UserID)
	assert.Equal(t, LeaveReasonIdle, left.Reason)
	assert.Zero(t, left.ActiveUsers)

	editors := registry.MembersOf("file-42")
	require.Len(t, editors, 1)
	assert.Equal(t, "user-active", editors[0].UserID)

	// The reaped member receives nothing and is out of the index
	assert.Empty(t, idle.messages())
	assert.Empty(t, registry.SessionsOf("conn-idle"))
}

func TestReapSweeperDestroysEmptiedSessions(t *testing.T) {
	b, registry := newTestBroadcaster(allowAllGate{}, defaultTestOptions())
	ctx := context.Background()

	base := time.Now()
	b.now = func() time.Time { return base }

	for _, u := range []string{"user-1", "user-2"} {
		conn := newFakeConn("conn-"+u, u, u)
		b.HandleJoin(ctx, conn, joinMessage("file-42", u, u))
	}
	require.Equal(t, 1, registry.Len())

	sweeper := NewReapSweeper(registry, time.Minute, time.Hour)
	sweeper.now = func() time.Time { return base.Add(2 * time.Hour) }

	assert.Equal(t, 2, sweeper.Sweep())
	assert.Zero(t, registry.Len(), "a fully reaped session is destroyed")
}

func TestReapSweeperKeepsRecentMembers(t *testing.T) {
	b, registry := newTestBroadcaster(allowAllGate{}, defaultTestOptions())
	ctx := context.Background()

	base := time.Now()
	b.now = func() time.Time { return base }

	conn := newFakeConn("conn-a", "user-a", "alice")
	b.HandleJoin(ctx, conn, joinMessage("file-42", "user-a", "alice"))

	sweeper := NewReapSweeper(registry, time.Minute, time.Hour)
	sweeper.now = func() time.Time { return base.Add(59 * time.Minute) }

	assert.Zero(t, sweeper.Sweep())
	assert.Len(t, registry.MembersOf("file-42"), 1)
}

func TestReapSweeperCursorActivityCountsAsActivity(t *testing.T) {
	b, registry := newTestBroadcaster(allowAllGate{}, defaultTestOptions())
	ctx := context.Background()

	base := time.Now()
	b.now = func() time.Time { return base }

	conn := newFakeConn("conn-a", "user-a", "alice")
	b.HandleJoin(ctx, conn, joinMessage("file-42", "user-a", "alice"))

	b.now = func() time.Time { return base.Add(50 * time.Minute) }
	b.HandleCursor(conn, cursorMessage("file-42", "user-a", 10, 2))

	sweeper := NewReapSweeper(registry, time.Minute, time.Hour)
	sweeper.now = func() time.Time { return base.Add(90 * time.Minute) }

	assert.Zero(t, sweeper.Sweep(), "a cursor move resets the idle clock")
	assert.Len(t, registry.MembersOf("file-42"), 1)
}

func TestReapSweeperStartStop(t *testing.T) {
	registry, err := NewSessionRegistry(10, 10)
	require.NoError(t, err)

	sweeper := NewReapSweeper(registry, 10*time.Millisecond, time.Hour)
	require.NoError(t, sweeper.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)

	// Concurrent and repeated Stops must neither panic nor double-close
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Stop()
		}()
	}
	wg.Wait()
	sweeper.Stop()
}
