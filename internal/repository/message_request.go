package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRequestRepository defines the interface for message request data operations
type MessageRequestRepository interface {
	// Create inserts a PENDING request. A concurrent duplicate in the same direction
	// yields a CONFLICT AppError.
	Create(ctx context.Context, req *models.MessageRequest) error
	FindByID(ctx context.Context, id uint) (*models.MessageRequest, error)
	// FindByIDForUpdate locks the row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, id uint) (*models.MessageRequest, error)
	// FindPending returns the PENDING request from sender to receiver, or nil.
	FindPending(ctx context.Context, senderID, receiverID uint, forUpdate bool) (*models.MessageRequest, error)
	// SavePending persists the pending message list and preview of a PENDING request.
	SavePending(ctx context.Context, req *models.MessageRequest) error
	// SaveTransition persists a transition made with MessageRequest.Transition. It fails
	// with BAD_REQUEST when the stored row is no longer PENDING.
	SaveTransition(ctx context.Context, req *models.MessageRequest) error
	ListPendingForReceiver(ctx context.Context, receiverID uint) ([]*models.MessageRequest, error)
	CountPendingForReceiver(ctx context.Context, receiverID uint) (int64, error)
}

// messageRequestRepository implements MessageRequestRepository
type messageRequestRepository struct {
	db *gorm.DB
}

// NewMessageRequestRepository creates a new message request repository
func NewMessageRequestRepository(db *gorm.DB) MessageRequestRepository {
	return &messageRequestRepository{db: db}
}

func (r *messageRequestRepository) Create(ctx context.Context, req *models.MessageRequest) error {
	defer observability.TrackQuery("insert", "message_requests")()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(req).Error
	})
	if err == nil {
		return nil
	}
	if models.IsDuplicateKeyError(err) {
		return models.NewConflictError("A pending message request already exists", err)
	}
	return models.NewInternalError(err)
}

func (r *messageRequestRepository) FindByID(ctx context.Context, id uint) (*models.MessageRequest, error) {
	return r.find(r.db.WithContext(ctx), id)
}

func (r *messageRequestRepository) FindByIDForUpdate(ctx context.Context, id uint) (*models.MessageRequest, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *messageRequestRepository) find(db *gorm.DB, id uint) (*models.MessageRequest, error) {
	var req models.MessageRequest
	if err := db.First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *messageRequestRepository) FindPending(ctx context.Context, senderID, receiverID uint, forUpdate bool) (*models.MessageRequest, error) {
	db := r.db.WithContext(ctx)
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var req models.MessageRequest
	if err := db.
		Where("sender_id = ? AND receiver_id = ? AND status = ?", senderID, receiverID, models.MessageRequestPending).
		First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *messageRequestRepository) SavePending(ctx context.Context, req *models.MessageRequest) error {
	res := r.db.WithContext(ctx).
		Model(&models.MessageRequest{}).
		Where("id = ? AND status = ?", req.ID, models.MessageRequestPending).
		Updates(map[string]interface{}{
			"pending_message_ids":    req.PendingMessageIDs,
			"last_message_content":   req.LastMessageContent,
			"last_message_timestamp": req.LastMessageTimestamp,
		})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewBadRequestError(fmt.Sprintf("Message request %d is no longer pending", req.ID))
	}
	return nil
}

func (r *messageRequestRepository) SaveTransition(ctx context.Context, req *models.MessageRequest) error {
	if req.Status == models.MessageRequestPending {
		return models.NewBadRequestError("Invalid message request transition")
	}
	respondedAt := time.Now().UTC()
	if req.RespondedAt != nil {
		respondedAt = req.RespondedAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.MessageRequest{}).
		Where("id = ? AND status = ?", req.ID, models.MessageRequestPending).
		Updates(map[string]interface{}{
			"status":          req.Status,
			"responded_at":    respondedAt,
			"conversation_id": req.ConversationID,
		})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewBadRequestError(fmt.Sprintf("Message request %d is no longer pending", req.ID))
	}
	observability.MessageRequestTransitions.WithLabelValues(string(req.Status)).Inc()
	return nil
}

func (r *messageRequestRepository) ListPendingForReceiver(ctx context.Context, receiverID uint) ([]*models.MessageRequest, error) {
	var reqs []*models.MessageRequest
	if err := readDB(r.db).WithContext(ctx).
		Where("receiver_id = ? AND status = ?", receiverID, models.MessageRequestPending).
		Order("COALESCE(last_message_timestamp, created_at) DESC").
		Order("id DESC").
		Find(&reqs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return reqs, nil
}

func (r *messageRequestRepository) CountPendingForReceiver(ctx context.Context, receiverID uint) (int64, error) {
	var count int64
	if err := readDB(r.db).WithContext(ctx).
		Model(&models.MessageRequest{}).
		Where("receiver_id = ? AND status = ?", receiverID, models.MessageRequestPending).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
