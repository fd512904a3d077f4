package api

import (
	"context"
	"fmt"
	"time"

	"github.com/codeloft/codeloft/internal/slogging"
)

// ClientConn is the broadcaster's view of one connected client. Enqueue
// must never block: it appends to the connection's bounded outbound queue
// and reports false when the queue is full or the connection is closing.
type ClientConn interface {
	ConnectionID() string
	UserID() string
	Username() string
	Enqueue(msg AsyncMessage) bool
}

// BroadcasterConfig carries the tunables for event handling
type BroadcasterConfig struct {
	// CursorPolicy throttles cursor updates; refusals are silent drops
	CursorPolicy RateLimitPolicy
	// EditPolicy throttles content edits and joins; refusals error back
	EditPolicy RateLimitPolicy
	// ConnectionMembershipCapacity bounds sessions per connection
	ConnectionMembershipCapacity int
}

// Broadcaster orchestrates join, edit, cursor, and leave traffic: it
// validates against the access gate and rate limiter, mutates the session
// registry under its per-file serialization, and fans events out to the
// other members of the file's room. The sender never receives its own
// broadcast back.
type Broadcaster struct {
	registry *SessionRegistry
	gate     AccessGate
	limiter  *SlidingWindowRateLimiter
	config   BroadcasterConfig

	// now is injectable for tests
	now func() time.Time
}

// NewBroadcaster wires the broadcaster to its collaborators and registers
// the LRU eviction notification path.
func NewBroadcaster(registry *SessionRegistry, gate AccessGate, limiter *SlidingWindowRateLimiter, config BroadcasterConfig) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		gate:     gate,
		limiter:  limiter,
		config:   config,
		now:      time.Now,
	}

	registry.SetEvictionHandler(b.notifySessionClosed)

	return b
}

// notifySessionClosed delivers session_closed to every member of an
// evicted session.
func (b *Broadcaster) notifySessionClosed(fileID string, members []*SessionMember) {
	msg := SessionClosedMessage{
		MessageType: MessageTypeSessionClosed,
		FileID:      fileID,
		Reason:      "session evicted under capacity pressure",
	}
	for _, m := range members {
		if m.conn != nil {
			m.conn.Enqueue(msg)
		}
	}
	broadcastsTotal.WithLabelValues(string(MessageTypeSessionClosed)).Add(float64(len(members)))
}

// HandleJoin processes a join_file_editing request. On success the sender
// receives the current editor list plus the recent operation log, and the
// other members are told someone joined.
func (b *Broadcaster) HandleJoin(ctx context.Context, conn ClientConn, msg *JoinFileMessage) {
	logger := slogging.Get()

	rejoining := b.isMemberOf(msg.FileID, conn)
	if !rejoining && b.registry.MembershipCount(conn.ConnectionID()) >= b.config.ConnectionMembershipCapacity {
		b.sendError(conn, ErrorCodeTooManySessions,
			fmt.Sprintf("connection already participates in %d sessions", b.config.ConnectionMembershipCapacity))
		return
	}

	if !b.limiter.Allow(conn.ConnectionID()+":join", b.config.EditPolicy) {
		rateLimitedTotal.WithLabelValues(string(MessageTypeJoinFile)).Inc()
		b.sendError(conn, ErrorCodeRateLimited, "too many join requests")
		return
	}

	allowed, err := b.gate.CheckAccess(ctx, msg.FileID, msg.UserID)
	if err != nil {
		// Lookup failure is a denial for the caller, logged distinctly
		// for operators
		logger.Warn("access check failed for file %s user %s: %v", msg.FileID, msg.UserID, err)
		allowed = false
	}
	if !allowed {
		logger.Warn("denied join attempt for file %s by user %s", msg.FileID, msg.UserID)
		joinDeniedTotal.Inc()
		b.sendError(conn, ErrorCodePermissionDenied, "permission denied")
		return
	}

	now := b.now()
	member := &SessionMember{
		ConnectionID: conn.ConnectionID(),
		UserID:       msg.UserID,
		Username:     msg.Username,
		JoinedAt:     now,
		LastActivity: now,
		conn:         conn,
	}

	sess := b.registry.lockOrCreate(msg.FileID)
	sess.join(member)

	ack := JoinAckMessage{
		MessageType:      MessageTypeJoinAck,
		FileID:           msg.FileID,
		Editors:          sess.editorInfos(msg.UserID),
		RecentOperations: sess.opLog.Recent(),
		Version:          sess.version,
	}
	joined := UserJoinedMessage{
		MessageType: MessageTypeUserJoined,
		FileID:      msg.FileID,
		UserID:      msg.UserID,
		Username:    msg.Username,
		ActiveUsers: sess.memberCount() - 1,
	}

	conn.Enqueue(ack)
	others := sess.others(msg.UserID)
	for _, m := range others {
		m.conn.Enqueue(joined)
	}
	sess.mu.Unlock()

	broadcastsTotal.WithLabelValues(string(MessageTypeUserJoined)).Add(float64(len(others)))
	logger.Debug("user %s joined file %s (%d editors)", msg.UserID, msg.FileID, len(others)+1)
}

// HandleEdit processes a file_content_change event. Edits are totally
// ordered per file by the session lock; the assigned version is broadcast
// to every other member.
func (b *Broadcaster) HandleEdit(conn ClientConn, msg *ContentChangeMessage) {
	sess, ok := b.registry.lockExisting(msg.FileID)
	if !ok {
		b.sendError(conn, ErrorCodeNotJoined, "not joined to file "+msg.FileID)
		return
	}

	if _, ok := sess.memberForConnection(msg.UserID, conn.ConnectionID()); !ok {
		sess.mu.Unlock()
		b.sendError(conn, ErrorCodeNotJoined, "not joined to file "+msg.FileID)
		return
	}

	if !b.limiter.Allow(conn.ConnectionID()+":edit", b.config.EditPolicy) {
		sess.mu.Unlock()
		rateLimitedTotal.WithLabelValues(string(MessageTypeContentChange)).Inc()
		b.sendError(conn, ErrorCodeRateLimited, "too many edit requests")
		return
	}

	op := sess.appendOperation(msg.UserID, msg.Changes, b.now())

	changed := ContentChangedMessage{
		MessageType: MessageTypeContentChanged,
		FileID:      msg.FileID,
		UserID:      msg.UserID,
		Changes:     op.Changes,
		Version:     op.Version,
		Timestamp:   op.Timestamp,
	}
	others := sess.others(msg.UserID)
	for _, m := range others {
		m.conn.Enqueue(changed)
	}
	sess.mu.Unlock()

	broadcastsTotal.WithLabelValues(string(MessageTypeContentChanged)).Add(float64(len(others)))
}

// HandleCursor processes a cursor_position_change event. Rate-limited
// cursor updates are dropped silently; fast mouse movement is expected to
// exceed the ceiling and dropped positions are superseded moments later.
func (b *Broadcaster) HandleCursor(conn ClientConn, msg *CursorChangeMessage) {
	sess, ok := b.registry.lockExisting(msg.FileID)
	if !ok {
		b.sendError(conn, ErrorCodeNotJoined, "not joined to file "+msg.FileID)
		return
	}

	if _, ok := sess.memberForConnection(msg.UserID, conn.ConnectionID()); !ok {
		sess.mu.Unlock()
		b.sendError(conn, ErrorCodeNotJoined, "not joined to file "+msg.FileID)
		return
	}

	if !b.limiter.Allow(conn.ConnectionID()+":cursor", b.config.CursorPolicy) {
		sess.mu.Unlock()
		rateLimitedTotal.WithLabelValues(string(MessageTypeCursorChange)).Inc()
		return
	}

	sess.recordCursor(msg.UserID, msg.Position, msg.Selection, b.now())

	moved := CursorChangedMessage{
		MessageType: MessageTypeCursorChanged,
		FileID:      msg.FileID,
		UserID:      msg.UserID,
		Username:    conn.Username(),
		Position:    msg.Position,
		Selection:   msg.Selection,
	}
	others := sess.others(msg.UserID)
	for _, m := range others {
		m.conn.Enqueue(moved)
	}
	sess.mu.Unlock()

	broadcastsTotal.WithLabelValues(string(MessageTypeCursorChanged)).Add(float64(len(others)))
}

// HandleLeave processes a leave_file_editing request
func (b *Broadcaster) HandleLeave(conn ClientConn, msg *LeaveFileMessage) {
	left := b.removeMember(msg.FileID, msg.UserID, conn.ConnectionID(), LeaveReasonLeft)
	if !left {
		b.sendError(conn, ErrorCodeNotJoined, "not joined to file "+msg.FileID)
	}
}

// HandleDisconnect synthesizes a leave for every session the connection
// participated in. It runs synchronously within the disconnect cleanup
// pass and is idempotent: once the membership index is empty a second
// call does nothing.
func (b *Broadcaster) HandleDisconnect(conn ClientConn) {
	fileIDs := b.registry.SessionsOf(conn.ConnectionID())
	for _, fileID := range fileIDs {
		b.removeMember(fileID, conn.UserID(), conn.ConnectionID(), LeaveReasonDisconnected)
	}

	b.limiter.Forget(conn.ConnectionID() + ":")

	if len(fileIDs) > 0 {
		slogging.Get().Debug("disconnect cleanup removed %s from %d sessions", conn.UserID(), len(fileIDs))
	}
}

// removeMember removes (userID, connectionID) from fileID's session,
// notifies the remaining members, and destroys the session if it emptied.
// Returns false when the user was not a member via that connection.
func (b *Broadcaster) removeMember(fileID, userID, connectionID, reason string) bool {
	sess, ok := b.registry.lockExisting(fileID)
	if !ok {
		return false
	}

	m, ok := sess.memberForConnection(userID, connectionID)
	if !ok {
		sess.mu.Unlock()
		return false
	}
	sess.leave(userID)

	left := UserLeftMessage{
		MessageType: MessageTypeUserLeft,
		FileID:      fileID,
		UserID:      userID,
		Username:    m.Username,
		ActiveUsers: sess.memberCount() - 1,
		Reason:      reason,
	}
	remaining := sess.others(userID)
	for _, other := range remaining {
		other.conn.Enqueue(left)
	}
	empty := sess.memberCount() == 0
	sess.mu.Unlock()

	broadcastsTotal.WithLabelValues(string(MessageTypeUserLeft)).Add(float64(len(remaining)))

	if empty {
		b.registry.destroyIfEmpty(fileID)
	}
	return true
}

// isMemberOf reports whether the connection already holds a membership in
// fileID, so a rejoin is not blocked by the membership cap.
func (b *Broadcaster) isMemberOf(fileID string, conn ClientConn) bool {
	sess, ok := b.registry.lockExisting(fileID)
	if !ok {
		return false
	}
	_, member := sess.memberForConnection(conn.UserID(), conn.ConnectionID())
	sess.mu.Unlock()
	return member
}

func (b *Broadcaster) sendError(conn ClientConn, code, message string) {
	conn.Enqueue(NewErrorMessage(code, message))
}
