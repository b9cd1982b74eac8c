package notifications

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Frame types sent to and received from chat websocket clients.
const (
	EventConnected              = "connected"
	EventMessage                = "message"
	EventMessageRequest         = "message_request"
	EventMessageRequestAccepted = "message_request_accepted"
	EventTyping                 = "typing"
	EventRead                   = "read"
	EventMessagesDropped        = "messages_dropped"
	EventUserStatus             = "user_status"
	EventError                  = "error"
)

// typingExpiresMS tells clients when to clear a typing indicator nobody refreshed.
const typingExpiresMS = 5000

// ChatMessage is the envelope of every server frame and of every pub/sub payload.
// ParticipantIDs addresses conversation events; each instance delivers the frame to
// its own sessions of those users.
type ChatMessage struct {
	ID             string      `json:"id,omitempty"`
	Type           string      `json:"type"`
	ConversationID uint        `json:"conversation_id,omitempty"`
	UserID         uint        `json:"user_id,omitempty"`
	Username       string      `json:"username,omitempty"`
	ParticipantIDs []uint      `json:"participant_ids,omitempty"`
	Payload        interface{} `json:"payload"`
}

// NewEvent returns an envelope with a fresh event id.
func NewEvent(eventType string, conversationID uint, payload interface{}) ChatMessage {
	return ChatMessage{
		ID:             uuid.NewString(),
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        payload,
	}
}

// ClientFrame is a frame sent by a chat websocket client.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id,omitempty"`
	MessageID      uint   `json:"message_id,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
}

// ParseClientFrame decodes a client frame.
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	err := json.Unmarshal(data, &f)
	return f, err
}

// ErrorFrame builds the frame sent back when a client frame could not be handled.
func ErrorFrame(code, message string) []byte {
	data, _ := json.Marshal(ChatMessage{
		Type:    EventError,
		Payload: map[string]string{"code": code, "message": message},
	})
	return data
}
