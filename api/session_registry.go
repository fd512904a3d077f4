package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codeloft/codeloft/internal/slogging"
	"github.com/codeloft/codeloft/internal/uuidgen"
	lru "github.com/hashicorp/golang-lru/v2"
)

// SessionMember is one user's membership in a file's editing session
type SessionMember struct {
	ConnectionID string
	UserID       string
	Username     string
	Cursor       CursorPosition
	Selection    *SelectionRange
	JoinedAt     time.Time
	LastActivity time.Time

	conn ClientConn
}

// EditorInfo converts the member to its wire representation
func (m *SessionMember) EditorInfo() EditorInfo {
	return EditorInfo{
		UserID:    m.UserID,
		Username:  m.Username,
		Cursor:    m.Cursor,
		Selection: m.Selection,
		JoinedAt:  m.JoinedAt,
	}
}

// EditingSession is the set of users currently editing one file, together
// with the file's recent operation log and version counter.
//
// Every mutation of a session happens under its mutex; mutations on
// different files proceed concurrently. Lock order is always registry
// mutex before session mutex, and the connection index mutex is a leaf.
type EditingSession struct {
	ID     string
	FileID string

	mu       sync.Mutex
	closed   bool
	members  map[string]*SessionMember // keyed by userID
	opLog    *OperationLog
	version  uint64
	registry *SessionRegistry
}

// SessionRegistry owns all editing sessions. It is bounded two ways:
// an LRU over file IDs caps the number of distinct sessions (inserting
// past capacity evicts the least-recently-touched session wholesale),
// and a per-connection membership cap bounds the connection index.
type SessionRegistry struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *EditingSession]

	indexMu sync.Mutex
	index   map[string]map[string]struct{} // connectionID -> fileIDs

	opWindow int

	// onEvict is invoked with the evicted file's members whenever a
	// non-empty session is removed by LRU pressure, so the broadcaster
	// can deliver session_closed notifications.
	onEvict func(fileID string, members []*SessionMember)
}

// NewSessionRegistry creates a registry bounded to capacity sessions,
// each retaining opWindow recent operations.
func NewSessionRegistry(capacity, opWindow int) (*SessionRegistry, error) {
	r := &SessionRegistry{
		index:    make(map[string]map[string]struct{}),
		opWindow: opWindow,
	}

	cache, err := lru.NewWithEvict(capacity, r.handleEviction)
	if err != nil {
		return nil, err
	}
	r.cache = cache

	return r, nil
}

// SetEvictionHandler registers the broadcast callback for LRU evictions.
// Must be called before any traffic reaches the registry.
func (r *SessionRegistry) SetEvictionHandler(fn func(fileID string, members []*SessionMember)) {
	r.onEvict = fn
}

// handleEviction closes the evicted session and reports its members.
// Runs under the registry mutex (evictions fire inside cache.Add/Remove).
func (r *SessionRegistry) handleEviction(fileID string, sess *EditingSession) {
	sess.mu.Lock()
	sess.closed = true
	members := make([]*SessionMember, 0, len(sess.members))
	for _, m := range sess.members {
		members = append(members, m)
	}
	sess.members = make(map[string]*SessionMember)
	sess.mu.Unlock()

	for _, m := range members {
		r.indexRemove(m.ConnectionID, fileID)
	}

	sessionsActiveGauge.Set(float64(r.cache.Len()))

	if len(members) > 0 {
		slogging.Get().Info("evicted editing session for file %s with %d members", fileID, len(members))
		sessionEvictionsTotal.Inc()
		if r.onEvict != nil {
			r.onEvict(fileID, members)
		}
	}
}

// lockOrCreate returns the session for fileID with its mutex held,
// creating it (and touching the LRU) as needed. Creation at capacity
// evicts the least-recently-used session.
func (r *SessionRegistry) lockOrCreate(fileID string) *EditingSession {
	for {
		r.mu.Lock()
		sess, ok := r.cache.Get(fileID)
		if !ok {
			sess = &EditingSession{
				ID:       uuidgen.MustNewForEntity(uuidgen.EntityTypeSession).String(),
				FileID:   fileID,
				members:  make(map[string]*SessionMember),
				opLog:    NewOperationLog(r.opWindow),
				registry: r,
			}
			r.cache.Add(fileID, sess)
			sessionsActiveGauge.Set(float64(r.cache.Len()))
		}
		r.mu.Unlock()

		sess.mu.Lock()
		if sess.closed {
			// Lost a race with eviction; start over with a fresh session
			sess.mu.Unlock()
			continue
		}
		return sess
	}
}

// lockExisting returns the session for fileID with its mutex held, or
// false if no live session exists. Touches the LRU.
func (r *SessionRegistry) lockExisting(fileID string) (*EditingSession, bool) {
	r.mu.Lock()
	sess, ok := r.cache.Get(fileID)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, false
	}
	return sess, true
}

// lockPeek is lockExisting without the LRU touch, for maintenance paths
// (the reap sweeper) that must not refresh a session's recency.
func (r *SessionRegistry) lockPeek(fileID string) (*EditingSession, bool) {
	r.mu.Lock()
	sess, ok := r.cache.Peek(fileID)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, false
	}
	return sess, true
}

// destroyIfEmpty removes the session for fileID if it has no members left
func (r *SessionRegistry) destroyIfEmpty(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.cache.Peek(fileID)
	if !ok {
		return
	}

	sess.mu.Lock()
	empty := !sess.closed && len(sess.members) == 0
	sess.mu.Unlock()

	if empty {
		// Remove fires handleEviction, which sees zero members and
		// skips the session_closed notification
		r.cache.Remove(fileID)
	}
}

// MembersOf returns the current editors of fileID without touching the LRU
func (r *SessionRegistry) MembersOf(fileID string) []EditorInfo {
	r.mu.Lock()
	sess, ok := r.cache.Peek(fileID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil
	}

	editors := make([]EditorInfo, 0, len(sess.members))
	for _, m := range sess.members {
		editors = append(editors, m.EditorInfo())
	}
	return editors
}

// SessionsOf returns the file IDs the connection currently participates in
func (r *SessionRegistry) SessionsOf(connectionID string) []string {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	fileIDs := make([]string, 0, len(r.index[connectionID]))
	for fileID := range r.index[connectionID] {
		fileIDs = append(fileIDs, fileID)
	}
	return fileIDs
}

// MembershipCount returns how many sessions the connection participates in
func (r *SessionRegistry) MembershipCount(connectionID string) int {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	return len(r.index[connectionID])
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// FileIDs returns a snapshot of all file IDs with live sessions,
// least-recently-used first.
func (r *SessionRegistry) FileIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Keys()
}

func (r *SessionRegistry) indexAdd(connectionID, fileID string) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	files, ok := r.index[connectionID]
	if !ok {
		files = make(map[string]struct{})
		r.index[connectionID] = files
	}
	files[fileID] = struct{}{}
}

func (r *SessionRegistry) indexRemove(connectionID, fileID string) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	files, ok := r.index[connectionID]
	if !ok {
		return
	}
	delete(files, fileID)
	if len(files) == 0 {
		delete(r.index, connectionID)
	}
}

// The methods below mutate a session and require its mutex to be held
// (obtained via lockOrCreate or lockExisting).

// join adds or replaces the member entry for m.UserID. A rejoin replaces
// the previous entry rather than duplicating it; if the previous entry
// belonged to a different connection, its index entry is dropped.
func (s *EditingSession) join(m *SessionMember) {
	if prev, ok := s.members[m.UserID]; ok && prev.ConnectionID != m.ConnectionID {
		s.registry.indexRemove(prev.ConnectionID, s.FileID)
	}
	s.members[m.UserID] = m
	s.registry.indexAdd(m.ConnectionID, s.FileID)
}

// leave removes the member entry for userID, returning it if present
func (s *EditingSession) leave(userID string) (*SessionMember, bool) {
	m, ok := s.members[userID]
	if !ok {
		return nil, false
	}
	delete(s.members, userID)
	s.registry.indexRemove(m.ConnectionID, s.FileID)
	return m, true
}

// member returns the entry for userID if joined
func (s *EditingSession) member(userID string) (*SessionMember, bool) {
	m, ok := s.members[userID]
	return m, ok
}

// memberForConnection returns the entry for userID only if it belongs to
// the given connection. A stale connection whose user rejoined elsewhere
// is not a member.
func (s *EditingSession) memberForConnection(userID, connectionID string) (*SessionMember, bool) {
	m, ok := s.members[userID]
	if !ok || m.ConnectionID != connectionID {
		return nil, false
	}
	return m, true
}

// recordCursor updates the member's cursor state and activity timestamp
func (s *EditingSession) recordCursor(userID string, pos CursorPosition, sel *SelectionRange, now time.Time) bool {
	m, ok := s.members[userID]
	if !ok {
		return false
	}
	m.Cursor = pos
	m.Selection = sel
	m.LastActivity = now
	return true
}

// appendOperation assigns the next version, appends to the operation log,
// and returns the recorded operation. Versions are monotonic per file for
// the lifetime of the session.
func (s *EditingSession) appendOperation(userID string, changes []json.RawMessage, now time.Time) Operation {
	s.version++
	op := Operation{
		UserID:    userID,
		Changes:   changes,
		Version:   s.version,
		Timestamp: now,
	}
	s.opLog.Append(op)
	if m, ok := s.members[userID]; ok {
		m.LastActivity = now
	}
	return op
}

// others returns all members except userID
func (s *EditingSession) others(userID string) []*SessionMember {
	out := make([]*SessionMember, 0, len(s.members))
	for id, m := range s.members {
		if id != userID {
			out = append(out, m)
		}
	}
	return out
}

// editorInfos returns the wire view of all members except excludeUserID
func (s *EditingSession) editorInfos(excludeUserID string) []EditorInfo {
	out := make([]EditorInfo, 0, len(s.members))
	for id, m := range s.members {
		if id != excludeUserID {
			out = append(out, m.EditorInfo())
		}
	}
	return out
}

func (s *EditingSession) memberCount() int {
	return len(s.members)
}
