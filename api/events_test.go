package api

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinFileMessageValidate(t *testing.T) {
	valid := JoinFileMessage{
		MessageType: MessageTypeJoinFile,
		FileID:      uuid.New().String(),
		UserID:      "user-1",
		Username:    "alice",
	}
	require.NoError(t, valid.Validate())

	t.Run("wrong message type", func(t *testing.T) {
		m := valid
		m.MessageType = MessageTypeLeaveFile
		assert.Error(t, m.Validate())
	})

	t.Run("file_id must be a UUID", func(t *testing.T) {
		m := valid
		m.FileID = "not-a-uuid"
		assert.Error(t, m.Validate())
	})

	t.Run("missing identity", func(t *testing.T) {
		m := valid
		m.UserID = ""
		assert.Error(t, m.Validate())

		m = valid
		m.Username = ""
		assert.Error(t, m.Validate())
	})
}

func TestContentChangeMessageValidate(t *testing.T) {
	valid := ContentChangeMessage{
		MessageType: MessageTypeContentChange,
		FileID:      "file-1",
		UserID:      "user-1",
		Changes:     []json.RawMessage{json.RawMessage(`{}`)},
	}
	require.NoError(t, valid.Validate())

	m := valid
	m.Changes = nil
	assert.Error(t, m.Validate(), "an edit must carry at least one change")
}

func TestCursorChangeMessageValidate(t *testing.T) {
	valid := CursorChangeMessage{
		MessageType: MessageTypeCursorChange,
		FileID:      "file-1",
		UserID:      "user-1",
		Position:    CursorPosition{Line: 10, Column: 4},
	}
	require.NoError(t, valid.Validate())

	m := valid
	m.Position = CursorPosition{Line: -1, Column: 0}
	assert.Error(t, m.Validate())
}

func TestErrorMessageRoundTrip(t *testing.T) {
	msg := NewErrorMessage(ErrorCodeRateLimited, "too many edit requests")
	require.NoError(t, msg.Validate())

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ErrorMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, MessageTypeError, decoded.MessageType)
	assert.Equal(t, ErrorCodeRateLimited, decoded.Code)
}
