package repository

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRequestRepository_Lifecycle(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewMessageRequestRepository(db)
	msgs := NewMessageRepository(db)
	ctx := context.Background()

	ana := testutil.CreateUser(t, db, "ana")
	ben := testutil.CreateUser(t, db, "ben")

	req, err := models.NewMessageRequest(ana.ID, ben.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, req))
	assert.NotZero(t, req.ID)

	t.Run("Only one pending per direction", func(t *testing.T) {
		dup, err := models.NewMessageRequest(ana.ID, ben.ID)
		require.NoError(t, err)
		err = repo.Create(ctx, dup)
		assert.True(t, models.HasCode(err, models.CodeConflict))

		reverse, err := models.NewMessageRequest(ben.ID, ana.ID)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, reverse))
	})

	t.Run("Pending messages accumulate", func(t *testing.T) {
		for _, text := range []string{"hi", "are you there?"} {
			m, err := models.NewMessage(ana.ID, models.MessageTypeText, text, "", nil)
			require.NoError(t, err)
			require.NoError(t, msgs.AppendPending(ctx, m, req.ID))
			require.NoError(t, req.AddPending(m))
			require.NoError(t, repo.SavePending(ctx, req))
		}

		stored, err := repo.FindPending(ctx, ana.ID, ben.ID, true)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Len(t, stored.PendingMessageIDs, 2)
		assert.Equal(t, "are you there?", stored.LastMessageContent)
		assert.NotNil(t, stored.LastMessageTimestamp)
	})

	t.Run("Inbox and count", func(t *testing.T) {
		inbox, err := repo.ListPendingForReceiver(ctx, ben.ID)
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, req.ID, inbox[0].ID)

		count, err := repo.CountPendingForReceiver(ctx, ben.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Transition is one-shot", func(t *testing.T) {
		locked, err := repo.FindByIDForUpdate(ctx, req.ID)
		require.NoError(t, err)
		require.NoError(t, locked.Transition(models.MessageRequestRejected, time.Now().UTC()))
		require.NoError(t, repo.SaveTransition(ctx, locked))

		stale, err := repo.FindByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageRequestRejected, stale.Status)
		assert.NotNil(t, stale.RespondedAt)

		// A second writer holding an old copy cannot overwrite the terminal state.
		req.Status = models.MessageRequestAccepted
		err = repo.SaveTransition(ctx, req)
		assert.True(t, models.HasCode(err, models.CodeBadRequest))

		err = repo.SavePending(ctx, req)
		assert.True(t, models.HasCode(err, models.CodeBadRequest))

		pending, err := repo.FindPending(ctx, ana.ID, ben.ID, false)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})

	t.Run("New pending after a terminal one", func(t *testing.T) {
		again, err := models.NewMessageRequest(ana.ID, ben.ID)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, again))
	})

	t.Run("Unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, 9999)
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})
}
