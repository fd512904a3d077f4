package api

import (
	"encoding/json"
	"time"
)

// Operation is one broadcast edit retained for late-join reconciliation.
// The changes payload is opaque to the server.
type Operation struct {
	UserID    string            `json:"user_id"`
	Changes   []json.RawMessage `json:"changes"`
	Version   uint64            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
}

// OperationLog is a fixed-window append-only log of the most recent edit
// operations for one file. Once the window is full the oldest entry is
// dropped on append. It is not a conflict-resolution mechanism; clients
// reconcile recent history visually on join.
type OperationLog struct {
	window int
	ops    []Operation
}

// NewOperationLog creates a log retaining at most window operations
func NewOperationLog(window int) *OperationLog {
	if window <= 0 {
		window = 1
	}
	return &OperationLog{
		window: window,
		ops:    make([]Operation, 0, window),
	}
}

// Append adds op, dropping the oldest entry if the window is full
func (l *OperationLog) Append(op Operation) {
	if len(l.ops) == l.window {
		copy(l.ops, l.ops[1:])
		l.ops = l.ops[:l.window-1]
	}
	l.ops = append(l.ops, op)
}

// Recent returns a copy of the retained operations, oldest first
func (l *OperationLog) Recent() []Operation {
	out := make([]Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// Len returns the number of retained operations
func (l *OperationLog) Len() int {
	return len(l.ops)
}
