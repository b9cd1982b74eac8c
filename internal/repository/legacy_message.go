package repository

import (
	"context"
	"errors"

	"parley/internal/models"

	"gorm.io/gorm"
)

// LegacyMessageRepository reads and retires the flat sender/receiver view of messages.
type LegacyMessageRepository interface {
	// EachUnmigrated streams rows that have neither a conversation nor a request, in id
	// order, batchSize rows at a time.
	EachUnmigrated(ctx context.Context, batchSize int, fn func(batch []models.LegacyMessage) error) error
	CountUnmigrated(ctx context.Context) (int64, error)
	// ReadMarked streams parented rows whose legacy read flag is still set and that have
	// no read receipt from anyone yet.
	ReadMarked(ctx context.Context, batchSize int, fn func(batch []models.LegacyMessage) error) error
	// ClearDeprecatedFields nulls receiver_id and is_read on parented rows.
	ClearDeprecatedFields(ctx context.Context) (int64, error)
}

type legacyMessageRepository struct {
	db *gorm.DB
}

// NewLegacyMessageRepository creates a new legacy message repository
func NewLegacyMessageRepository(db *gorm.DB) LegacyMessageRepository {
	return &legacyMessageRepository{db: db}
}

func (r *legacyMessageRepository) EachUnmigrated(ctx context.Context, batchSize int, fn func(batch []models.LegacyMessage) error) error {
	return r.each(r.db.WithContext(ctx).
		Where("conversation_id IS NULL AND request_id IS NULL"), batchSize, fn)
}

func (r *legacyMessageRepository) ReadMarked(ctx context.Context, batchSize int, fn func(batch []models.LegacyMessage) error) error {
	return r.each(r.db.WithContext(ctx).
		Where("messages.conversation_id IS NOT NULL AND messages.is_read = ? AND messages.receiver_id IS NOT NULL", true).
		Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id)"), batchSize, fn)
}

func (r *legacyMessageRepository) each(query *gorm.DB, batchSize int, fn func(batch []models.LegacyMessage) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var rows []models.LegacyMessage
	res := query.FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
		return fn(rows)
	})
	if res.Error != nil {
		var appErr *models.AppError
		if errors.As(res.Error, &appErr) {
			return appErr
		}
		return models.NewInternalError(res.Error)
	}
	return nil
}

func (r *legacyMessageRepository) CountUnmigrated(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.LegacyMessage{}).
		Where("conversation_id IS NULL AND request_id IS NULL").
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *legacyMessageRepository) ClearDeprecatedFields(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LegacyMessage{}).
		Where("conversation_id IS NOT NULL AND (receiver_id IS NOT NULL OR is_read IS NOT NULL)").
		UpdateColumns(map[string]interface{}{"receiver_id": nil, "is_read": nil})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
