package api

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/codeloft/codeloft/internal/slogging"
)

// MessageHandler defines the interface for handling WebSocket messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, b *Broadcaster, client *WebSocketClient, message []byte) error
	MessageType() MessageType
}

// MessageRouter routes inbound WebSocket messages to typed handlers
type MessageRouter struct {
	handlers map[MessageType]MessageHandler
}

// NewMessageRouter creates a router with the collaboration handlers registered
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[MessageType]MessageHandler),
	}

	router.RegisterHandler(&JoinFileHandler{})
	router.RegisterHandler(&ContentChangeHandler{})
	router.RegisterHandler(&CursorChangeHandler{})
	router.RegisterHandler(&LeaveFileHandler{})

	return router
}

// RegisterHandler registers a message handler for a specific message type
func (r *MessageRouter) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.MessageType()] = handler
}

// RouteMessage routes a message to the appropriate handler
func (r *MessageRouter) RouteMessage(ctx context.Context, b *Broadcaster, client *WebSocketClient, message []byte) error {
	// Panic recovery so one bad message never takes down the connection worker
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in RouteMessage - Conn: %s, User: %s, Error: %v, Stack: %s",
				client.ConnectionID(), client.UserID(), rec, debug.Stack())
		}
	}()

	logger := slogging.Get()
	sanitized := slogging.SanitizeLogMessage(string(message))
	logger.Debug("[wsmsg] received message - conn_id=%s user_id=%s message_size=%d raw_message=%s",
		client.ConnectionID(), client.UserID(), len(message), sanitized)

	var baseMsg struct {
		MessageType MessageType `json:"message_type"`
		UserID      string      `json:"user_id"`
	}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		logger.Debug("failed to parse message from conn %s: %v", client.ConnectionID(), err)
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, "message is not valid JSON"))
		return err
	}

	// Server-only message types are a protocol violation when sent by clients
	switch baseMsg.MessageType {
	case MessageTypeJoinAck, MessageTypeUserJoined, MessageTypeUserLeft,
		MessageTypeContentChanged, MessageTypeCursorChanged, MessageTypeSessionClosed:
		logger.Warn("client %s sent server-only message type '%s'", client.UserID(), baseMsg.MessageType)
		client.Enqueue(NewErrorMessage(ErrorCodeServerOnlyType,
			"message type '"+string(baseMsg.MessageType)+"' is server-only and cannot be sent by clients"))
		return nil
	}

	// The authenticated identity is authoritative; a payload claiming a
	// different user is rejected outright
	if baseMsg.UserID != "" && baseMsg.UserID != client.UserID() {
		logger.Warn("client %s sent message claiming user_id %s", client.UserID(), baseMsg.UserID)
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, "user_id does not match authenticated user"))
		return nil
	}

	handler, exists := r.handlers[baseMsg.MessageType]
	if !exists {
		logger.Warn("unsupported message type '%s' from user %s", baseMsg.MessageType, client.UserID())
		client.Enqueue(NewErrorMessage(ErrorCodeUnsupportedType,
			"message type '"+string(baseMsg.MessageType)+"' is not supported"))
		return nil
	}

	return handler.HandleMessage(ctx, b, client, message)
}

// JoinFileHandler handles join_file_editing messages
type JoinFileHandler struct{}

func (h *JoinFileHandler) MessageType() MessageType {
	return MessageTypeJoinFile
}

func (h *JoinFileHandler) HandleMessage(ctx context.Context, b *Broadcaster, client *WebSocketClient, message []byte) error {
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in JoinFileHandler - Conn: %s, User: %s, Error: %v, Stack: %s",
				client.ConnectionID(), client.UserID(), rec, debug.Stack())
		}
	}()

	var msg JoinFileMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, "malformed join request"))
		return err
	}
	if err := msg.Validate(); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, err.Error()))
		return nil
	}

	b.HandleJoin(ctx, client, &msg)
	return nil
}

// ContentChangeHandler handles file_content_change messages
type ContentChangeHandler struct{}

func (h *ContentChangeHandler) MessageType() MessageType {
	return MessageTypeContentChange
}

func (h *ContentChangeHandler) HandleMessage(ctx context.Context, b *Broadcaster, client *WebSocketClient, message []byte) error {
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in ContentChangeHandler - Conn: %s, User: %s, Error: %v, Stack: %s",
				client.ConnectionID(), client.UserID(), rec, debug.Stack())
		}
	}()

	var msg ContentChangeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, "malformed content change"))
		return err
	}
	if err := msg.Validate(); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, err.Error()))
		return nil
	}

	b.HandleEdit(client, &msg)
	return nil
}

// CursorChangeHandler handles cursor_position_change messages
type CursorChangeHandler struct{}

func (h *CursorChangeHandler) MessageType() MessageType {
	return MessageTypeCursorChange
}

func (h *CursorChangeHandler) HandleMessage(ctx context.Context, b *Broadcaster, client *WebSocketClient, message []byte) error {
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in CursorChangeHandler - Conn: %s, User: %s, Error: %v, Stack: %s",
				client.ConnectionID(), client.UserID(), rec, debug.Stack())
		}
	}()

	var msg CursorChangeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, "malformed cursor update"))
		return err
	}
	if err := msg.Validate(); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, err.Error()))
		return nil
	}

	b.HandleCursor(client, &msg)
	return nil
}

// LeaveFileHandler handles leave_file_editing messages
type LeaveFileHandler struct{}

func (h *LeaveFileHandler) MessageType() MessageType {
	return MessageTypeLeaveFile
}

func (h *LeaveFileHandler) HandleMessage(ctx context.Context, b *Broadcaster, client *WebSocketClient, message []byte) error {
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in LeaveFileHandler - Conn: %s, User: %s, Error: %v, Stack: %s",
				client.ConnectionID(), client.UserID(), rec, debug.Stack())
		}
	}()

	var msg LeaveFileMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, "malformed leave request"))
		return err
	}
	if err := msg.Validate(); err != nil {
		client.Enqueue(NewErrorMessage(ErrorCodeMalformedRequest, err.Error()))
		return nil
	}

	b.HandleLeave(client, &msg)
	return nil
}
