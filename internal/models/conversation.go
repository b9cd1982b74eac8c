package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationType distinguishes one-to-one threads from group threads.
type ConversationType string

const (
	ConversationTypeDirect ConversationType = "DIRECT"
	ConversationTypeGroup  ConversationType = "GROUP"
)

// MemberRole is the role of a member inside a conversation.
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// LastMessagePreview is the denormalized last-message cache stored on a conversation.
// Content already holds the resolved preview text (placeholders for media).
type LastMessagePreview struct {
	MessageID *uint      `gorm:"column:id" json:"message_id,omitempty"`
	Content   string     `gorm:"column:content;type:text" json:"content"`
	SenderID  *uint      `gorm:"column:sender_id" json:"sender_id,omitempty"`
	At        *time.Time `gorm:"column:at" json:"at,omitempty"`
}

// Conversation is either a DIRECT thread between exactly two users or a GROUP thread.
// ParticipantsNormalized is only set for DIRECT conversations.
type Conversation struct {
	ID                     uint                 `gorm:"primaryKey" json:"id"`
	Type                   ConversationType     `gorm:"type:varchar(16);not null;index" json:"type"`
	Name                   string               `json:"name,omitempty"`
	Avatar                 string               `json:"avatar,omitempty"`
	ParticipantsNormalized *string              `gorm:"type:varchar(64);uniqueIndex:idx_conversations_direct_pair,where:type = 'DIRECT' AND deleted_at IS NULL" json:"participants_normalized,omitempty"`
	CreatedBy              uint                 `gorm:"not null" json:"created_by"`
	LastMessage            LastMessagePreview   `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`
	Theme                  datatypes.JSON       `json:"theme,omitempty"`
	Members                []ConversationMember `gorm:"foreignKey:ConversationID" json:"members,omitempty"`
	CreatedAt              time.Time            `json:"created_at"`
	UpdatedAt              time.Time            `json:"updated_at"`
	DeletedAt              gorm.DeletedAt       `gorm:"index" json:"-"`
}

// ConversationMember is a roster entry. Leaving sets LeftAt; rows are never deleted so
// historical messages keep their attribution.
type ConversationMember struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	ConversationID uint       `gorm:"not null;uniqueIndex:idx_conversation_member" json:"conversation_id"`
	UserID         uint       `gorm:"not null;uniqueIndex:idx_conversation_member;index" json:"user_id"`
	Username       string     `json:"username"`
	Avatar         string     `json:"avatar"`
	IsVerified     bool       `gorm:"default:false" json:"is_verified"`
	Role           MemberRole `gorm:"type:varchar(16);not null;default:'MEMBER'" json:"role"`
	JoinedAt       time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt         *time.Time `gorm:"index" json:"left_at,omitempty"`
}

// ConversationDeletion records that a user hid a conversation from their own list.
type ConversationDeletion struct {
	ConversationID uint      `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	HiddenAt       time.Time `gorm:"not null" json:"hidden_at"`
}

// TableName specifies the table name for GORM
func (ConversationDeletion) TableName() string {
	return "conversation_deletions"
}

// NewDirectConversation builds an unsaved DIRECT conversation between two distinct users.
func NewDirectConversation(creatorID, otherID uint) (*Conversation, error) {
	if creatorID == 0 || otherID == 0 {
		return nil, NewValidationError("Direct conversations require two users")
	}
	if creatorID == otherID {
		return nil, NewBadRequestError("Cannot start a conversation with yourself")
	}
	key := PairKey(creatorID, otherID)
	now := time.Now().UTC()
	return &Conversation{
		Type:                   ConversationTypeDirect,
		ParticipantsNormalized: &key,
		CreatedBy:              creatorID,
		Members: []ConversationMember{
			{UserID: creatorID, Role: MemberRoleMember, JoinedAt: now},
			{UserID: otherID, Role: MemberRoleMember, JoinedAt: now},
		},
	}, nil
}

// NewGroupConversation builds an unsaved GROUP conversation. The creator is ADMIN.
func NewGroupConversation(creatorID uint, name, avatar string, memberIDs []uint) (*Conversation, error) {
	if creatorID == 0 {
		return nil, NewValidationError("Group creator is required")
	}
	if name == "" {
		return nil, NewValidationError("Group conversations require a name")
	}
	ids := UniqueIDs(append([]uint{creatorID}, memberIDs...))
	if len(ids) < 2 {
		return nil, NewValidationError("Group conversations require at least two participants")
	}
	now := time.Now().UTC()
	members := make([]ConversationMember, 0, len(ids))
	for _, id := range ids {
		role := MemberRoleMember
		if id == creatorID {
			role = MemberRoleAdmin
		}
		members = append(members, ConversationMember{UserID: id, Role: role, JoinedAt: now})
	}
	return &Conversation{
		Type:      ConversationTypeGroup,
		Name:      name,
		Avatar:    avatar,
		CreatedBy: creatorID,
		Members:   members,
	}, nil
}

// IsDirect reports whether the conversation is a one-to-one thread.
func (c *Conversation) IsDirect() bool {
	return c.Type == ConversationTypeDirect
}

// ParticipantIDs returns the ids of members that have not left.
func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Members))
	for _, m := range c.Members {
		if m.LeftAt == nil {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// HasParticipant reports whether userID is an active member.
func (c *Conversation) HasParticipant(userID uint) bool {
	for _, m := range c.Members {
		if m.UserID == userID && m.LeftAt == nil {
			return true
		}
	}
	return false
}

// RoleOf returns the role of an active member, or "" if userID is not one.
func (c *Conversation) RoleOf(userID uint) MemberRole {
	for _, m := range c.Members {
		if m.UserID == userID && m.LeftAt == nil {
			return m.Role
		}
	}
	return ""
}
