package models

import "time"

// LegacyMessage is the flat sender/receiver view of the messages table that predates
// conversations. Only the chat migration reads it; ReceiverID and IsRead are cleared
// once a row has been moved onto a conversation.
type LegacyMessage struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	SenderID       *uint       `gorm:"index" json:"sender_id"`
	ReceiverID     *uint       `gorm:"index" json:"receiver_id"`
	IsRead         *bool       `json:"is_read"`
	ConversationID *uint       `gorm:"index" json:"conversation_id"`
	RequestID      *uint       `gorm:"index" json:"request_id"`
	Type           MessageType `gorm:"type:varchar(16);default:'TEXT'" json:"type"`
	Content        string      `gorm:"type:text" json:"content"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (LegacyMessage) TableName() string {
	return "messages"
}

// Pair returns the sender and receiver, and false if either is missing.
func (m *LegacyMessage) Pair() (sender, receiver uint, ok bool) {
	if m.SenderID == nil || m.ReceiverID == nil || *m.SenderID == 0 || *m.ReceiverID == 0 {
		return 0, 0, false
	}
	return *m.SenderID, *m.ReceiverID, true
}

// WasRead reports whether the legacy read flag is set.
func (m *LegacyMessage) WasRead() bool {
	return m.IsRead != nil && *m.IsRead
}
