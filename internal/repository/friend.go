package repository

import (
	"context"
	"errors"

	"parley/internal/models"

	"gorm.io/gorm"
)

// FriendRepository defines the friendship lookups the messaging core needs
type FriendRepository interface {
	Create(ctx context.Context, friendship *models.Friendship) error
	GetFriendshipBetweenUsers(ctx context.Context, userID1, userID2 uint) (*models.Friendship, error)
	// AreConnected reports whether the two users share an accepted friendship.
	AreConnected(ctx context.Context, userID1, userID2 uint) (bool, error)
}

// friendRepository implements FriendRepository
type friendRepository struct {
	db *gorm.DB
}

// NewFriendRepository creates a new friend repository
func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

func (r *friendRepository) Create(ctx context.Context, friendship *models.Friendship) error {
	if err := r.db.WithContext(ctx).Create(friendship).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *friendRepository) GetFriendshipBetweenUsers(ctx context.Context, userID1, userID2 uint) (*models.Friendship, error) {
	var friendship models.Friendship

	// Find friendship where users are either requester/addressee in any order
	if err := r.db.WithContext(ctx).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)",
			userID1, userID2, userID2, userID1).
		First(&friendship).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No friendship exists
		}
		return nil, models.NewInternalError(err)
	}
	return &friendship, nil
}

func (r *friendRepository) AreConnected(ctx context.Context, userID1, userID2 uint) (bool, error) {
	friendship, err := r.GetFriendshipBetweenUsers(ctx, userID1, userID2)
	if err != nil {
		return false, err
	}
	return friendship.Connects(), nil
}
