package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// fakeConn is an in-memory ClientConn capturing everything enqueued to it
type fakeConn struct {
	id   string
	user string
	name string

	mu     sync.Mutex
	inbox  []AsyncMessage
	reject bool
}

func newFakeConn(id, user, name string) *fakeConn {
	return &fakeConn{id: id, user: user, name: name}
}

func (c *fakeConn) ConnectionID() string { return c.id }
func (c *fakeConn) UserID() string       { return c.user }
func (c *fakeConn) Username() string     { return c.name }

func (c *fakeConn) Enqueue(msg AsyncMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return false
	}
	c.inbox = append(c.inbox, msg)
	return true
}

func (c *fakeConn) messages() []AsyncMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AsyncMessage, len(c.inbox))
	copy(out, c.inbox)
	return out
}

func (c *fakeConn) messagesOfType(mt MessageType) []AsyncMessage {
	var out []AsyncMessage
	for _, m := range c.messages() {
		if m.GetMessageType() == mt {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) errorsWithCode(code string) []ErrorMessage {
	var out []ErrorMessage
	for _, m := range c.messages() {
		if em, ok := m.(ErrorMessage); ok && em.Code == code {
			out = append(out, em)
		}
	}
	return out
}

func (c *fakeConn) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = nil
}

// stubGate is an AccessGate with canned decisions keyed by "fileID|userID"
type stubGate struct {
	mu      sync.Mutex
	allowed map[string]bool
	err     error
	calls   int
}

func newStubGate() *stubGate {
	return &stubGate{allowed: make(map[string]bool)}
}

func (g *stubGate) allow(fileID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[fileID+"|"+userID] = true
}

func (g *stubGate) CheckAccess(ctx context.Context, fileID, userID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	return g.allowed[fileID+"|"+userID], nil
}

// allowAllGate approves everyone
type allowAllGate struct{}

func (allowAllGate) CheckAccess(ctx context.Context, fileID, userID string) (bool, error) {
	return true, nil
}

type testBroadcasterOptions struct {
	sessionCapacity    int
	opWindow           int
	membershipCapacity int
	cursorPolicy       RateLimitPolicy
	editPolicy         RateLimitPolicy
}

func defaultTestOptions() testBroadcasterOptions {
	return testBroadcasterOptions{
		sessionCapacity:    100,
		opWindow:           100,
		membershipCapacity: 100,
		cursorPolicy:       RateLimitPolicy{MaxEvents: 1000, Window: time.Second},
		editPolicy:         RateLimitPolicy{MaxEvents: 1000, Window: time.Second},
	}
}

func newTestBroadcaster(gate AccessGate, opts testBroadcasterOptions) (*Broadcaster, *SessionRegistry) {
	registry, err := NewSessionRegistry(opts.sessionCapacity, opts.opWindow)
	if err != nil {
		panic(err)
	}
	b := NewBroadcaster(registry, gate, NewSlidingWindowRateLimiter(), BroadcasterConfig{
		CursorPolicy:                 opts.cursorPolicy,
		EditPolicy:                   opts.editPolicy,
		ConnectionMembershipCapacity: opts.membershipCapacity,
	})
	return b, registry
}

func joinMessage(fileID, userID, username string) *JoinFileMessage {
	return &JoinFileMessage{
		MessageType: MessageTypeJoinFile,
		FileID:      fileID,
		UserID:      userID,
		Username:    username,
	}
}

func editMessage(fileID, userID string, payload string) *ContentChangeMessage {
	return &ContentChangeMessage{
		MessageType: MessageTypeContentChange,
		FileID:      fileID,
		UserID:      userID,
		Changes:     []json.RawMessage{json.RawMessage(payload)},
	}
}

func cursorMessage(fileID, userID string, line, column int) *CursorChangeMessage {
	return &CursorChangeMessage{
		MessageType: MessageTypeCursorChange,
		FileID:      fileID,
		UserID:      userID,
		Position:    CursorPosition{Line: line, Column: column},
	}
}

func leaveMessage(fileID, userID string) *LeaveFileMessage {
	return &LeaveFileMessage{
		MessageType: MessageTypeLeaveFile,
		FileID:      fileID,
		UserID:      userID,
	}
}
