package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"parley/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_UpdateProfile_Validation(t *testing.T) {
	t.Parallel()

	t.Run("username too long", func(t *testing.T) {
		t.Parallel()
		repo := noopUserRepo()
		repo.getByIDFn = func(_ context.Context, id uint) (*models.User, error) {
			return &models.User{ID: id, Username: "original"}, nil
		}
		svc := NewUserService(repo, noopConvRepo())
		_, err := svc.UpdateProfile(context.Background(), UpdateProfileInput{
			UserID:   1,
			Username: strings.Repeat("x", 31),
		})
		assertValidationError(t, err)
	})

	t.Run("bio too long", func(t *testing.T) {
		t.Parallel()
		repo := noopUserRepo()
		repo.getByIDFn = func(_ context.Context, id uint) (*models.User, error) {
			return &models.User{ID: id}, nil
		}
		svc := NewUserService(repo, noopConvRepo())
		_, err := svc.UpdateProfile(context.Background(), UpdateProfileInput{
			UserID: 1,
			Bio:    strings.Repeat("x", 501),
		})
		assertValidationError(t, err)
	})

	t.Run("avatar must be a URL", func(t *testing.T) {
		t.Parallel()
		svc := NewUserService(noopUserRepo(), noopConvRepo())
		_, err := svc.UpdateProfile(context.Background(), UpdateProfileInput{
			UserID: 1,
			Avatar: "not a url",
		})
		assertValidationError(t, err)
	})
}

func TestUserService_UpdateProfile_RefreshesRosters(t *testing.T) {
	t.Parallel()

	repo := noopUserRepo()
	repo.getByIDFn = func(_ context.Context, id uint) (*models.User, error) {
		return &models.User{ID: id, Username: "old", Bio: "my bio"}, nil
	}
	var saved *models.User
	repo.updateFn = func(_ context.Context, u *models.User) error {
		saved = u
		return nil
	}
	convs := noopConvRepo()
	var refreshed *models.User
	convs.refreshFn = func(_ context.Context, u *models.User) error {
		refreshed = u
		return nil
	}

	svc := NewUserService(repo, convs)
	user, err := svc.UpdateProfile(context.Background(), UpdateProfileInput{
		UserID:   1,
		Username: "newname",
		Avatar:   "https://cdn.example.test/new.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "newname", user.Username)
	assert.Equal(t, "my bio", user.Bio, "bio should be unchanged when not provided")
	require.NotNil(t, saved)
	require.NotNil(t, refreshed)
	assert.Equal(t, "newname", refreshed.Username)
	assert.Equal(t, "https://cdn.example.test/new.png", refreshed.Avatar)
}

func TestUserService_UpdateProfile_RepoError(t *testing.T) {
	t.Parallel()

	t.Run("Update error propagates and skips the roster refresh", func(t *testing.T) {
		t.Parallel()
		repoErr := errors.New("update failed")
		repo := noopUserRepo()
		repo.updateFn = func(_ context.Context, _ *models.User) error {
			return repoErr
		}
		convs := noopConvRepo()
		convs.refreshFn = func(context.Context, *models.User) error {
			t.Error("refresh should not run")
			return nil
		}
		svc := NewUserService(repo, convs)
		_, err := svc.UpdateProfile(context.Background(), UpdateProfileInput{UserID: 1, Username: "new"})
		assert.ErrorIs(t, err, repoErr)
	})
}

func TestUserService_SetAdmin(t *testing.T) {
	t.Parallel()

	t.Run("sets admin flag by username", func(t *testing.T) {
		t.Parallel()
		repo := noopUserRepo()
		var gotName string
		repo.setAdminFn = func(_ context.Context, username string, admin bool) (*models.User, error) {
			gotName = username
			return &models.User{ID: 5, Username: username, IsAdmin: !admin}, nil
		}
		svc := NewUserService(repo, noopConvRepo())
		user, err := svc.SetAdmin(context.Background(), " ana ", true)
		require.NoError(t, err)
		assert.Equal(t, "ana", gotName)
		assert.True(t, user.IsAdmin)
	})

	t.Run("blank username", func(t *testing.T) {
		t.Parallel()
		svc := NewUserService(noopUserRepo(), noopConvRepo())
		_, err := svc.SetAdmin(context.Background(), "  ", true)
		assertValidationError(t, err)
	})
}
