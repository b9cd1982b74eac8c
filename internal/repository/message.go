package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Page size limits for conversation history.
const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 100
)

// ReparentResult reports what a Reparent call did. AlreadyParented counts requested
// rows that belong to another conversation and were left untouched.
type ReparentResult struct {
	Updated         int64
	AlreadyParented int64
}

// MessageRepository defines the interface for message data operations
type MessageRepository interface {
	// Append stores a message in an existing conversation.
	Append(ctx context.Context, msg *models.Message) error
	// AppendPending stores a message that waits on a message request.
	AppendPending(ctx context.Context, msg *models.Message, requestID uint) error
	// ListByConversation returns one page, newest first, and the cursor of the next page
	// ("" when there is none).
	ListByConversation(ctx context.Context, conversationID uint, cursor string, limit int) ([]*models.Message, string, error)
	// MarkRead records a read receipt and reports whether it was new.
	MarkRead(ctx context.Context, messageID, readerID uint) (bool, error)
	// Reparent attaches unparented messages to a conversation.
	Reparent(ctx context.Context, messageIDs []uint, conversationID uint) (ReparentResult, error)
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	FindByIDs(ctx context.Context, ids []uint) ([]*models.Message, error)
}

// messageRepository implements MessageRepository
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *models.Message) error {
	if msg.ConversationID == nil {
		return models.NewValidationError("Message requires a conversation")
	}
	db := r.db.WithContext(ctx)

	var exists int64
	if err := db.Model(&models.Conversation{}).Where("id = ?", *msg.ConversationID).Count(&exists).Error; err != nil {
		return models.NewInternalError(err)
	}
	if exists == 0 {
		return models.NewNotFoundError("Conversation", *msg.ConversationID)
	}
	return r.create(db, msg)
}

func (r *messageRepository) AppendPending(ctx context.Context, msg *models.Message, requestID uint) error {
	if requestID == 0 {
		return models.NewValidationError("Pending message requires a message request")
	}
	msg.ConversationID = nil
	msg.RequestID = &requestID
	return r.create(r.db.WithContext(ctx), msg)
}

func (r *messageRepository) create(db *gorm.DB, msg *models.Message) error {
	defer observability.TrackQuery("insert", "messages")()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := db.Create(msg).Error; err != nil {
		return models.NewInternalError(err)
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []uint{}
	}
	return nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uint, cursor string, limit int) ([]*models.Message, string, error) {
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}
	defer observability.TrackQuery("select", "messages")()

	query := readDB(r.db).WithContext(ctx).
		Where("conversation_id = ?", conversationID)
	if cursor != "" {
		at, id, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, id)
	}

	var msgs []*models.Message
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, "", models.NewInternalError(err)
	}
	if err := r.attachReads(readDB(r.db).WithContext(ctx), msgs); err != nil {
		return nil, "", err
	}

	next := ""
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		next = EncodeCursor(last.CreatedAt, last.ID)
	}
	return msgs, next, nil
}

func (r *messageRepository) attachReads(db *gorm.DB, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uint, len(msgs))
	byID := make(map[uint]*models.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		m.ReadBy = []uint{}
		byID[m.ID] = m
	}

	var reads []models.MessageRead
	if err := db.Where("message_id IN ?", ids).Order("read_at ASC, user_id ASC").Find(&reads).Error; err != nil {
		return models.NewInternalError(err)
	}
	for _, rd := range reads {
		if m, ok := byID[rd.MessageID]; ok {
			m.ReadBy = append(m.ReadBy, rd.UserID)
		}
	}
	return nil
}

func (r *messageRepository) MarkRead(ctx context.Context, messageID, readerID uint) (bool, error) {
	db := r.db.WithContext(ctx)
	var exists int64
	if err := db.Model(&models.Message{}).Where("id = ?", messageID).Count(&exists).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	if exists == 0 {
		return false, models.NewNotFoundError("Message", messageID)
	}
	res := db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MessageRead{MessageID: messageID, UserID: readerID, ReadAt: time.Now().UTC()})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepository) Reparent(ctx context.Context, messageIDs []uint, conversationID uint) (ReparentResult, error) {
	var result ReparentResult
	ids := models.UniqueIDs(messageIDs)
	if len(ids) == 0 {
		return result, nil
	}
	db := r.db.WithContext(ctx)

	res := db.Model(&models.Message{}).
		Where("id IN ? AND conversation_id IS NULL", ids).
		UpdateColumn("conversation_id", conversationID)
	if res.Error != nil {
		return result, models.NewInternalError(res.Error)
	}
	result.Updated = res.RowsAffected

	if err := db.Model(&models.Message{}).
		Where("id IN ? AND conversation_id IS NOT NULL AND conversation_id <> ?", ids, conversationID).
		Count(&result.AlreadyParented).Error; err != nil {
		return result, models.NewInternalError(err)
	}
	if result.AlreadyParented > 0 {
		observability.ReparentSkipped.Add(float64(result.AlreadyParented))
		middleware.Logger.WarnContext(ctx, "Skipped reparenting messages that belong to another conversation",
			"conversation_id", conversationID,
			"skipped", result.AlreadyParented,
		)
	}
	return result, nil
}

func (r *messageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	msg.ReadBy = []uint{}
	return &msg, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []uint) ([]*models.Message, error) {
	ids = models.UniqueIDs(ids)
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}
	var msgs []*models.Message
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, m := range msgs {
		m.ReadBy = []uint{}
	}
	return msgs, nil
}

// EncodeCursor renders a history cursor as "<unix nanos>_<message id>".
func EncodeCursor(at time.Time, id uint) string {
	return fmt.Sprintf("%d_%d", at.UnixNano(), id)
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (time.Time, uint, error) {
	nanos, idPart, ok := strings.Cut(cursor, "_")
	if !ok {
		return time.Time{}, 0, models.NewBadRequestError("Malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, 0, models.NewBadRequestError("Malformed cursor")
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return time.Time{}, 0, models.NewBadRequestError("Malformed cursor")
	}
	return time.Unix(0, n).UTC(), uint(id), nil
}
