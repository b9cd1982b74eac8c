package repository

import (
	"context"
	"errors"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository defines the interface for conversation data operations
type ConversationRepository interface {
	// FindOrCreateDirect returns the single DIRECT conversation of the pair, creating it
	// when absent. created is false when an existing row was returned.
	FindOrCreateDirect(ctx context.Context, userA, userB uint) (conv *models.Conversation, created bool, err error)
	FindByID(ctx context.Context, id uint) (*models.Conversation, error)
	// FindDirect returns nil, nil when the pair has no open DIRECT conversation.
	FindDirect(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error)
	// UpdateLastMessage applies preview only if it is not older than the stored one and
	// reports whether it was applied.
	UpdateLastMessage(ctx context.Context, conversationID uint, preview models.LastMessagePreview) (bool, error)
	SetTimestamps(ctx context.Context, conversationID uint, createdAt, updatedAt time.Time) error
	SoftDeleteForUser(ctx context.Context, conversationID, userID uint) error
	RestoreForParticipants(ctx context.Context, conversationID uint) error
	CreateGroup(ctx context.Context, creatorID uint, name, avatar string, memberIDs []uint) (*models.Conversation, error)
	AddMembers(ctx context.Context, conversationID uint, userIDs []uint) error
	RemoveMember(ctx context.Context, conversationID, userID uint) error
	UpdateGroupInfo(ctx context.Context, conversationID uint, name, avatar string) error
	UpdateTheme(ctx context.Context, conversationID uint, theme datatypes.JSON) error
	// MemberRole returns "" when userID is not an active member.
	MemberRole(ctx context.Context, conversationID, userID uint) (models.MemberRole, error)
	IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error)
	RefreshMemberProfiles(ctx context.Context, user *models.User) error
}

// conversationRepository implements ConversationRepository
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func activeMembers(db *gorm.DB) *gorm.DB {
	return db.Where("left_at IS NULL").Order("joined_at ASC, id ASC")
}

func (r *conversationRepository) FindOrCreateDirect(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error) {
	conv, err := models.NewDirectConversation(userA, userB)
	if err != nil {
		return nil, false, err
	}

	existing, err := r.FindDirect(ctx, userA, userB)
	if err != nil || existing != nil {
		return existing, false, err
	}

	db := r.db.WithContext(ctx)
	if err := fillMemberProfiles(db, conv.Members); err != nil {
		return nil, false, err
	}

	defer observability.TrackQuery("insert", "conversations")()
	// The explicit transaction becomes a savepoint when the caller already holds one,
	// so a unique violation does not abort the outer transaction.
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(conv).Error
	})
	if err == nil {
		return conv, true, nil
	}
	if !models.IsDuplicateKeyError(err) {
		return nil, false, models.NewInternalError(err)
	}

	// Lost the race against a concurrent creator; its row is the answer.
	existing, lookupErr := r.FindDirect(ctx, userA, userB)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		return nil, false, models.NewConflictError("Direct conversation could not be resolved", err)
	}
	return existing, false, nil
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Members", activeMembers).
		First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Conversation", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

func (r *conversationRepository) FindDirect(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	if userA == 0 || userB == 0 || userA == userB {
		return nil, nil
	}
	var conv models.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Members", activeMembers).
		Where("type = ? AND participants_normalized = ?", models.ConversationTypeDirect, models.PairKey(userA, userB)).
		First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	defer observability.TrackQuery("select", "conversations")()

	var convs []*models.Conversation
	if err := readDB(r.db).WithContext(ctx).
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id AND cm.user_id = ? AND cm.left_at IS NULL", userID).
		Where("NOT EXISTS (SELECT 1 FROM conversation_deletions cd WHERE cd.conversation_id = conversations.id AND cd.user_id = ?)", userID).
		Preload("Members", activeMembers).
		Order("COALESCE(conversations.last_message_at, conversations.updated_at) DESC").
		Order("conversations.id DESC").
		Find(&convs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return convs, nil
}

func (r *conversationRepository) UpdateLastMessage(ctx context.Context, conversationID uint, preview models.LastMessagePreview) (bool, error) {
	if preview.At == nil {
		return false, models.NewBadRequestError("Last message preview requires a timestamp")
	}
	at := preview.At.UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", conversationID, at).
		UpdateColumns(map[string]interface{}{
			"last_message_id":        preview.MessageID,
			"last_message_content":   preview.Content,
			"last_message_sender_id": preview.SenderID,
			"last_message_at":        at,
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *conversationRepository) SetTimestamps(ctx context.Context, conversationID uint, createdAt, updatedAt time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		UpdateColumns(map[string]interface{}{
			"created_at": createdAt.UTC(),
			"updated_at": updatedAt.UTC(),
		}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) SoftDeleteForUser(ctx context.Context, conversationID, userID uint) error {
	hidden := models.ConversationDeletion{
		ConversationID: conversationID,
		UserID:         userID,
		HiddenAt:       time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&hidden).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) RestoreForParticipants(ctx context.Context, conversationID uint) error {
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&models.ConversationDeletion{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) CreateGroup(ctx context.Context, creatorID uint, name, avatar string, memberIDs []uint) (*models.Conversation, error) {
	conv, err := models.NewGroupConversation(creatorID, name, avatar, memberIDs)
	if err != nil {
		return nil, err
	}
	db := r.db.WithContext(ctx)
	if err := fillMemberProfiles(db, conv.Members); err != nil {
		return nil, err
	}
	if err := db.Create(conv).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return conv, nil
}

func (r *conversationRepository) AddMembers(ctx context.Context, conversationID uint, userIDs []uint) error {
	ids := models.UniqueIDs(userIDs)
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.ConversationMember
		if err := tx.Where("conversation_id = ? AND user_id IN ?", conversationID, ids).
			Find(&existing).Error; err != nil {
			return models.NewInternalError(err)
		}
		byUser := make(map[uint]models.ConversationMember, len(existing))
		for _, m := range existing {
			byUser[m.UserID] = m
		}

		var fresh []models.ConversationMember
		for _, id := range ids {
			m, ok := byUser[id]
			switch {
			case !ok:
				fresh = append(fresh, models.ConversationMember{
					ConversationID: conversationID,
					UserID:         id,
					Role:           models.MemberRoleMember,
					JoinedAt:       now,
				})
			case m.LeftAt != nil:
				if err := tx.Model(&models.ConversationMember{}).
					Where("id = ?", m.ID).
					UpdateColumns(map[string]interface{}{"left_at": nil, "joined_at": now}).Error; err != nil {
					return models.NewInternalError(err)
				}
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := fillMemberProfiles(tx, fresh); err != nil {
			return err
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *conversationRepository) RemoveMember(ctx context.Context, conversationID, userID uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		UpdateColumn("left_at", time.Now().UTC())
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Conversation member", userID)
	}
	return nil
}

func (r *conversationRepository) UpdateGroupInfo(ctx context.Context, conversationID uint, name, avatar string) error {
	return r.updateGroup(ctx, conversationID, map[string]interface{}{"name": name, "avatar": avatar})
}

func (r *conversationRepository) UpdateTheme(ctx context.Context, conversationID uint, theme datatypes.JSON) error {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"theme": theme})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Conversation", conversationID)
	}
	return nil
}

func (r *conversationRepository) updateGroup(ctx context.Context, conversationID uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND type = ?", conversationID, models.ConversationTypeGroup).
		Updates(fields)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Group conversation", conversationID)
	}
	return nil
}

func (r *conversationRepository) MemberRole(ctx context.Context, conversationID, userID uint) (models.MemberRole, error) {
	var member models.ConversationMember
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", models.NewInternalError(err)
	}
	return member.Role, nil
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Joins("JOIN conversations c ON c.id = conversation_members.conversation_id AND c.deleted_at IS NULL").
		Where("conversation_members.conversation_id = ? AND conversation_members.user_id = ? AND conversation_members.left_at IS NULL", conversationID, userID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *conversationRepository) ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("joined_at ASC, id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *conversationRepository) RefreshMemberProfiles(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("user_id = ?", user.ID).
		UpdateColumns(map[string]interface{}{
			"username":    user.Username,
			"avatar":      user.Avatar,
			"is_verified": user.IsVerified,
		}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// fillMemberProfiles copies display fields from the user directory onto unsaved members.
// Soft-deleted users still resolve so historical threads keep their names.
func fillMemberProfiles(db *gorm.DB, members []models.ConversationMember) error {
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	var users []models.User
	if err := db.Unscoped().Where("id IN ?", ids).Find(&users).Error; err != nil {
		return models.NewInternalError(err)
	}
	byID := make(map[uint]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	for i := range members {
		u, ok := byID[members[i].UserID]
		if !ok {
			return models.NewNotFoundError("User", members[i].UserID)
		}
		members[i].Username = u.Username
		members[i].Avatar = u.Avatar
		members[i].IsVerified = u.IsVerified
	}
	return nil
}
