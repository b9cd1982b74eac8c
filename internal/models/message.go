package models

import (
	"strings"
	"time"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageTypeText      MessageType = "TEXT"
	MessageTypeImage     MessageType = "IMAGE"
	MessageTypeVideo     MessageType = "VIDEO"
	MessageTypeAudio     MessageType = "AUDIO"
	MessageTypePostShare MessageType = "POST_SHARE"
)

// MessageTypes lists every supported message type.
var MessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeImage,
	MessageTypeVideo,
	MessageTypeAudio,
	MessageTypePostShare,
}

// ParseMessageType accepts any casing and defaults an empty value to TEXT.
func ParseMessageType(raw string) (MessageType, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return MessageTypeText, nil
	}
	for _, t := range MessageTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", NewBadRequestError("Unsupported message type: " + raw)
}

// IsMedia reports whether the type references uploaded media.
func (t MessageType) IsMedia() bool {
	return t == MessageTypeImage || t == MessageTypeVideo || t == MessageTypeAudio
}

// Message is the conversation-centric record. ConversationID is nil only for messages
// waiting on a request and for legacy rows the compactor has not reached yet.
type Message struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	ConversationID   *uint       `gorm:"index" json:"conversation_id,omitempty"`
	RequestID        *uint       `gorm:"index" json:"request_id,omitempty"`
	SenderID         uint        `gorm:"index" json:"sender_id"`
	Type             MessageType `gorm:"type:varchar(16);default:'TEXT'" json:"type"`
	Content          string      `gorm:"type:text" json:"content"`
	MediaURL         string      `json:"media_url,omitempty"`
	ReplyToMessageID *uint       `json:"reply_to_message_id,omitempty"`
	ReadBy           []uint      `gorm:"-" json:"read_by"`
	CreatedAt        time.Time   `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// MessageRead records that a user has read a message.
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	ReadAt    time.Time `gorm:"not null" json:"read_at"`
}

// TableName specifies the table name for GORM
func (MessageRead) TableName() string {
	return "message_reads"
}

// NewMessage builds an unsaved message. Content rules per type are checked by the
// validation package before this is called.
func NewMessage(senderID uint, msgType MessageType, content, mediaURL string, replyTo *uint) (*Message, error) {
	if senderID == 0 {
		return nil, NewValidationError("Sender is required")
	}
	if _, err := PreviewText(msgType, content); err != nil {
		return nil, err
	}
	return &Message{
		SenderID:         senderID,
		Type:             msgType,
		Content:          content,
		MediaURL:         mediaURL,
		ReplyToMessageID: replyTo,
		ReadBy:           []uint{},
	}, nil
}

// IsReadBy reports whether userID is in ReadBy.
func (m *Message) IsReadBy(userID uint) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
