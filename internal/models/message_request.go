package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// MessageRequestStatus is the lifecycle state of a message request.
type MessageRequestStatus string

const (
	MessageRequestPending  MessageRequestStatus = "PENDING"
	MessageRequestAccepted MessageRequestStatus = "ACCEPTED"
	MessageRequestRejected MessageRequestStatus = "REJECTED"
	MessageRequestIgnored  MessageRequestStatus = "IGNORED"
)

// IsTerminal reports whether s is one of the responded states.
func (s MessageRequestStatus) IsTerminal() bool {
	switch s {
	case MessageRequestAccepted, MessageRequestRejected, MessageRequestIgnored:
		return true
	}
	return false
}

// MessageRequest gates first contact between users that share no open conversation.
// At most one PENDING request exists per direction.
type MessageRequest struct {
	ID                   uint                      `gorm:"primaryKey" json:"id"`
	SenderID             uint                      `gorm:"not null;index;uniqueIndex:idx_message_requests_pending_pair,where:status = 'PENDING'" json:"sender_id"`
	ReceiverID           uint                      `gorm:"not null;index:idx_message_requests_receiver_status,priority:1;uniqueIndex:idx_message_requests_pending_pair" json:"receiver_id"`
	Status               MessageRequestStatus      `gorm:"type:varchar(16);not null;default:'PENDING';index:idx_message_requests_receiver_status,priority:2" json:"status"`
	PendingMessageIDs    datatypes.JSONSlice[uint] `json:"pending_message_ids"`
	LastMessageContent   string                    `gorm:"type:text" json:"last_message_content"`
	LastMessageTimestamp *time.Time                `json:"last_message_timestamp,omitempty"`
	ConversationID       *uint                     `json:"conversation_id,omitempty"`
	RespondedAt          *time.Time                `json:"responded_at,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// NewMessageRequest builds an unsaved PENDING request.
func NewMessageRequest(senderID, receiverID uint) (*MessageRequest, error) {
	if senderID == 0 || receiverID == 0 {
		return nil, NewValidationError("Message requests require a sender and a receiver")
	}
	if senderID == receiverID {
		return nil, NewBadRequestError("Cannot send a message request to yourself")
	}
	return &MessageRequest{
		SenderID:          senderID,
		ReceiverID:        receiverID,
		Status:            MessageRequestPending,
		PendingMessageIDs: datatypes.JSONSlice[uint]{},
	}, nil
}

// AddPending appends a queued message and refreshes the preview cache.
func (r *MessageRequest) AddPending(msg *Message) error {
	if r.Status != MessageRequestPending {
		return NewBadRequestError(fmt.Sprintf("Message request %d is %s", r.ID, r.Status))
	}
	text, err := PreviewText(msg.Type, msg.Content)
	if err != nil {
		return err
	}
	r.PendingMessageIDs = append(r.PendingMessageIDs, msg.ID)
	r.LastMessageContent = text
	at := msg.CreatedAt
	if r.LastMessageTimestamp == nil || !at.Before(*r.LastMessageTimestamp) {
		r.LastMessageTimestamp = &at
	}
	return nil
}

// Transition moves a PENDING request to a terminal status.
func (r *MessageRequest) Transition(to MessageRequestStatus, at time.Time) error {
	if r.Status != MessageRequestPending {
		return NewBadRequestError(fmt.Sprintf("Message request %d is already %s", r.ID, r.Status))
	}
	if !to.IsTerminal() {
		return NewBadRequestError(fmt.Sprintf("Invalid message request transition to %q", to))
	}
	r.Status = to
	r.RespondedAt = &at
	return nil
}

// Involves reports whether userID is the sender or the receiver.
func (r *MessageRequest) Involves(userID uint) bool {
	return r.SenderID == userID || r.ReceiverID == userID
}

// ActivityAt is the time used to order requests in the receiver's inbox.
func (r *MessageRequest) ActivityAt() time.Time {
	if r.LastMessageTimestamp != nil {
		return *r.LastMessageTimestamp
	}
	return r.CreatedAt
}
