package database

import (
	"time"

	"parley/internal/models"
)

// messageSchema is the union of columns on the messages table. models.Message and
// models.LegacyMessage are narrower read/write views of the same rows, so neither can
// be handed to AutoMigrate without the other's columns being dropped on rebuild.
type messageSchema struct {
	ID               uint               `gorm:"primaryKey"`
	ConversationID   *uint              `gorm:"index"`
	RequestID        *uint              `gorm:"index"`
	SenderID         *uint              `gorm:"index"`
	ReceiverID       *uint              `gorm:"index"`
	IsRead           *bool
	Type             models.MessageType `gorm:"type:varchar(16);not null;default:'TEXT'"`
	Content          string             `gorm:"type:text;not null;default:''"`
	MediaURL         string             `gorm:"type:text;not null;default:''"`
	ReplyToMessageID *uint
	CreatedAt        time.Time          `gorm:"index"`
}

func (messageSchema) TableName() string {
	return "messages"
}

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Friendship{},
		&models.Conversation{},
		&models.ConversationMember{},
		&models.ConversationDeletion{},
		&messageSchema{},
		&models.MessageRead{},
		&models.MessageRequest{},
	}
}
