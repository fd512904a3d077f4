package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebSocket message types for the collaborative file-editing protocol.
// These types are manually implemented to provide type safety and
// validation for every message crossing the wire.

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> server message types
	MessageTypeJoinFile      MessageType = "join_file_editing"
	MessageTypeContentChange MessageType = "file_content_change"
	MessageTypeCursorChange  MessageType = "cursor_position_change"
	MessageTypeLeaveFile     MessageType = "leave_file_editing"

	// Server -> client message types
	MessageTypeJoinAck        MessageType = "file_editors_list"
	MessageTypeUserJoined     MessageType = "user_joined_file"
	MessageTypeUserLeft       MessageType = "user_left_file"
	MessageTypeContentChanged MessageType = "file_content_changed"
	MessageTypeCursorChanged  MessageType = "cursor_position_changed"
	MessageTypeSessionClosed  MessageType = "session_closed"
	MessageTypeError          MessageType = "error"
)

// Error codes carried in ErrorMessage
const (
	ErrorCodePermissionDenied = "permission_denied"
	ErrorCodeRateLimited      = "rate_limited"
	ErrorCodeMalformedRequest = "malformed_request"
	ErrorCodeNotJoined        = "not_joined"
	ErrorCodeTooManySessions  = "too_many_sessions"
	ErrorCodeUnsupportedType  = "unsupported_message_type"
	ErrorCodeServerOnlyType   = "invalid_message_type"
)

// Leave reasons carried in UserLeftMessage
const (
	LeaveReasonLeft         = "left"
	LeaveReasonIdle         = "idle"
	LeaveReasonDisconnected = "disconnected"
)

// AsyncMessage is the base interface for all WebSocket messages
type AsyncMessage interface {
	GetMessageType() MessageType
	Validate() error
}

// CursorPosition is a zero-based line/column position within a file
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is an inclusive start / exclusive end selection
type SelectionRange struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// EditorInfo describes one user currently editing a file
type EditorInfo struct {
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Cursor    CursorPosition  `json:"cursor"`
	Selection *SelectionRange `json:"selection,omitempty"`
	JoinedAt  time.Time       `json:"joined_at"`
}

// JoinFileMessage requests membership in a file's editing session
type JoinFileMessage struct {
	MessageType MessageType `json:"message_type"`
	FileID      string      `json:"file_id"`
	UserID      string      `json:"user_id"`
	ProjectID   string      `json:"project_id,omitempty"`
	Username    string      `json:"username"`
}

func (m JoinFileMessage) GetMessageType() MessageType { return m.MessageType }

func (m JoinFileMessage) Validate() error {
	if m.MessageType != MessageTypeJoinFile {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeJoinFile, m.MessageType)
	}
	if m.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if _, err := uuid.Parse(m.FileID); err != nil {
		return fmt.Errorf("file_id must be a valid UUID: %w", err)
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if m.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// ContentChangeMessage carries raw edit operations for a file. The server
// does not interpret the changes; it orders, versions, and broadcasts them.
type ContentChangeMessage struct {
	MessageType MessageType       `json:"message_type"`
	FileID      string            `json:"file_id"`
	UserID      string            `json:"user_id"`
	Changes     []json.RawMessage `json:"changes"`
	// Version is the client's last observed version, informational only;
	// the server assigns the authoritative version on broadcast.
	Version uint64 `json:"version"`
}

func (m ContentChangeMessage) GetMessageType() MessageType { return m.MessageType }

func (m ContentChangeMessage) Validate() error {
	if m.MessageType != MessageTypeContentChange {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeContentChange, m.MessageType)
	}
	if m.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(m.Changes) == 0 {
		return fmt.Errorf("at least one change is required")
	}
	return nil
}

// CursorChangeMessage updates the sender's cursor position and selection
type CursorChangeMessage struct {
	MessageType MessageType     `json:"message_type"`
	FileID      string          `json:"file_id"`
	UserID      string          `json:"user_id"`
	Position    CursorPosition  `json:"position"`
	Selection   *SelectionRange `json:"selection,omitempty"`
}

func (m CursorChangeMessage) GetMessageType() MessageType { return m.MessageType }

func (m CursorChangeMessage) Validate() error {
	if m.MessageType != MessageTypeCursorChange {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeCursorChange, m.MessageType)
	}
	if m.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if m.Position.Line < 0 || m.Position.Column < 0 {
		return fmt.Errorf("position must be non-negative")
	}
	return nil
}

// LeaveFileMessage withdraws the sender from a file's editing session
type LeaveFileMessage struct {
	MessageType MessageType `json:"message_type"`
	FileID      string      `json:"file_id"`
	UserID      string      `json:"user_id"`
}

func (m LeaveFileMessage) GetMessageType() MessageType { return m.MessageType }

func (m LeaveFileMessage) Validate() error {
	if m.MessageType != MessageTypeLeaveFile {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeLeaveFile, m.MessageType)
	}
	if m.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// JoinAckMessage confirms a join to the sender, carrying the current editor
// list and the recent operation log for late-join reconciliation
type JoinAckMessage struct {
	MessageType      MessageType `json:"message_type"`
	FileID           string      `json:"file_id"`
	Editors          []EditorInfo `json:"editors"`
	RecentOperations []Operation  `json:"recent_operations"`
	Version          uint64       `json:"version"`
}

func (m JoinAckMessage) GetMessageType() MessageType { return m.MessageType }

func (m JoinAckMessage) Validate() error {
	if m.MessageType != MessageTypeJoinAck {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeJoinAck, m.MessageType)
	}
	return nil
}

// UserJoinedMessage notifies existing members that someone joined.
// ActiveUsers counts the session's members other than the recipient.
type UserJoinedMessage struct {
	MessageType MessageType `json:"message_type"`
	FileID      string      `json:"file_id"`
	UserID      string      `json:"user_id"`
	Username    string      `json:"username"`
	ActiveUsers int         `json:"active_users"`
}

func (m UserJoinedMessage) GetMessageType() MessageType { return m.MessageType }

func (m UserJoinedMessage) Validate() error {
	if m.MessageType != MessageTypeUserJoined {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeUserJoined, m.MessageType)
	}
	return nil
}

// UserLeftMessage notifies remaining members that someone left.
// ActiveUsers counts the session's members other than the recipient.
type UserLeftMessage struct {
	MessageType MessageType `json:"message_type"`
	FileID      string      `json:"file_id"`
	UserID      string      `json:"user_id"`
	Username    string      `json:"username"`
	ActiveUsers int         `json:"active_users"`
	Reason      string      `json:"reason,omitempty"`
}

func (m UserLeftMessage) GetMessageType() MessageType { return m.MessageType }

func (m UserLeftMessage) Validate() error {
	if m.MessageType != MessageTypeUserLeft {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeUserLeft, m.MessageType)
	}
	return nil
}

// ContentChangedMessage broadcasts an ordered, versioned edit to other members
type ContentChangedMessage struct {
	MessageType MessageType       `json:"message_type"`
	FileID      string            `json:"file_id"`
	UserID      string            `json:"user_id"`
	Changes     []json.RawMessage `json:"changes"`
	Version     uint64            `json:"version"`
	Timestamp   time.Time         `json:"timestamp"`
}

func (m ContentChangedMessage) GetMessageType() MessageType { return m.MessageType }

func (m ContentChangedMessage) Validate() error {
	if m.MessageType != MessageTypeContentChanged {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeContentChanged, m.MessageType)
	}
	return nil
}

// CursorChangedMessage broadcasts a cursor update to other members
type CursorChangedMessage struct {
	MessageType MessageType     `json:"message_type"`
	FileID      string          `json:"file_id"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Position    CursorPosition  `json:"position"`
	Selection   *SelectionRange `json:"selection,omitempty"`
}

func (m CursorChangedMessage) GetMessageType() MessageType { return m.MessageType }

func (m CursorChangedMessage) Validate() error {
	if m.MessageType != MessageTypeCursorChanged {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeCursorChanged, m.MessageType)
	}
	return nil
}

// SessionClosedMessage notifies all members that their session was closed
// server-side (capacity eviction or shutdown)
type SessionClosedMessage struct {
	MessageType MessageType `json:"message_type"`
	FileID      string      `json:"file_id"`
	Reason      string      `json:"reason"`
}

func (m SessionClosedMessage) GetMessageType() MessageType { return m.MessageType }

func (m SessionClosedMessage) Validate() error {
	if m.MessageType != MessageTypeSessionClosed {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeSessionClosed, m.MessageType)
	}
	return nil
}

// ErrorMessage reports a request failure to the offending connection only
type ErrorMessage struct {
	MessageType MessageType `json:"message_type"`
	Code        string      `json:"code"`
	Message     string      `json:"message"`
}

func (m ErrorMessage) GetMessageType() MessageType { return m.MessageType }

func (m ErrorMessage) Validate() error {
	if m.MessageType != MessageTypeError {
		return fmt.Errorf("invalid message_type: expected %s, got %s", MessageTypeError, m.MessageType)
	}
	if m.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}

// NewErrorMessage builds an error event for the given taxonomy code
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{
		MessageType: MessageTypeError,
		Code:        code,
		Message:     message,
	}
}
