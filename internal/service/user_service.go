package service

import (
	"context"
	"strings"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/validation"
)

// UserService keeps the denormalized member profiles in step with the user directory.
type UserService struct {
	userRepo repository.UserRepository
	convRepo repository.ConversationRepository
}

type UpdateProfileInput struct {
	UserID   uint
	Username string
	Bio      string
	Avatar   string
}

func NewUserService(userRepo repository.UserRepository, convRepo repository.ConversationRepository) *UserService {
	return &UserService{userRepo: userRepo, convRepo: convRepo}
}

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// UpdateProfile applies the non-empty fields of in and copies the display fields onto
// every conversation roster the user is on.
func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	const maxBioLen = 500
	const maxUsernameLen = 30

	if in.Username = strings.TrimSpace(in.Username); in.Username != "" {
		if len(in.Username) > maxUsernameLen {
			return nil, models.NewValidationError("Username too long (max 30 characters)")
		}
		user.Username = in.Username
	}
	if in.Bio != "" {
		if len(in.Bio) > maxBioLen {
			return nil, models.NewValidationError("Bio too long (max 500 characters)")
		}
		user.Bio = in.Bio
	}
	if in.Avatar != "" {
		if err := validation.ValidateMediaURL(in.Avatar); err != nil {
			return nil, err
		}
		user.Avatar = in.Avatar
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	if err := s.convRepo.RefreshMemberProfiles(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// SetAdmin grants or revokes the admin role by username.
func (s *UserService) SetAdmin(ctx context.Context, username string, isAdmin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, models.NewValidationError("Username is required")
	}
	user, err := s.userRepo.SetAdmin(ctx, username, isAdmin)
	if err != nil {
		return nil, err
	}
	user.IsAdmin = isAdmin
	return user, nil
}
