package service

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func legacyAt(t *testing.T, db *gorm.DB, sender, receiver uint, content string, read bool, at time.Time) *models.LegacyMessage {
	t.Helper()
	m := testutil.InsertLegacyMessage(t, db, sender, receiver, content, read)
	require.NoError(t, db.Model(m).UpdateColumn("created_at", at).Error)
	m.CreatedAt = at
	return m
}

func newMigrationFixture(t *testing.T) (*gorm.DB, repository.Repositories, *ChatMigrationService) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	repos := repository.NewRepositories(db)
	return db, repos, NewChatMigrationService(repository.NewTransactor(db), repos, 2)
}

func TestChatMigration_BackfillGroupsPairs(t *testing.T) {
	db, repos, svc := newMigrationFixture(t)
	ctx := context.Background()
	ana := testutil.CreateUser(t, db, "ana")
	ben := testutil.CreateUser(t, db, "ben")
	cy := testutil.CreateUser(t, db, "cy")
	dee := testutil.CreateUser(t, db, "dee")

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	a1 := legacyAt(t, db, ana.ID, ben.ID, "morning", true, base)
	a2 := legacyAt(t, db, ben.ID, ana.ID, "morning!", false, base.Add(time.Minute))
	a3 := legacyAt(t, db, ana.ID, ben.ID, "lunch?", false, base.Add(2*time.Hour))
	c1 := legacyAt(t, db, cy.ID, dee.ID, "ping", false, base.Add(time.Hour))
	c2 := legacyAt(t, db, dee.ID, cy.ID, "pong", false, base.Add(90*time.Minute))

	report, err := svc.BackfillConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackfillReport{
		Processed:            5,
		ConversationsCreated: 2,
		MessagesMigrated:     5,
		ReadsMigrated:        1,
	}, report)

	conv, err := repos.Conversations.FindDirect(ctx, ana.ID, ben.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "lunch?", conv.LastMessage.Content)
	require.NotNil(t, conv.LastMessage.At)
	assert.True(t, conv.LastMessage.At.Equal(a3.CreatedAt))
	assert.True(t, conv.CreatedAt.Equal(a1.CreatedAt))
	assert.True(t, conv.UpdatedAt.Equal(a3.CreatedAt))

	history, _, err := repos.Messages.ListByConversation(ctx, conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []uint{a3.ID, a2.ID, a1.ID}, []uint{history[0].ID, history[1].ID, history[2].ID})
	assert.True(t, history[2].IsReadBy(ben.ID), "legacy read flag becomes a receipt")

	other, err := repos.Conversations.FindDirect(ctx, cy.ID, dee.ID)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, "pong", other.LastMessage.Content)
	assert.True(t, other.LastMessage.At.Equal(c2.CreatedAt))
	assert.True(t, other.CreatedAt.Equal(c1.CreatedAt))

	t.Run("Re-running is a no-op", func(t *testing.T) {
		again, err := svc.BackfillConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, BackfillReport{}, again)

		var convCount int64
		require.NoError(t, db.Model(&models.Conversation{}).Count(&convCount).Error)
		assert.Equal(t, int64(2), convCount)
	})

	t.Run("Cleanup clears legacy columns", func(t *testing.T) {
		cleaned, err := svc.CleanupDeprecatedFields(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), cleaned.Cleared)

		var row models.LegacyMessage
		require.NoError(t, db.First(&row, a1.ID).Error)
		assert.Nil(t, row.ReceiverID)
		assert.Nil(t, row.IsRead)
		require.NotNil(t, row.SenderID)
		assert.Equal(t, ana.ID, *row.SenderID)

		again, err := svc.CleanupDeprecatedFields(ctx)
		require.NoError(t, err)
		assert.Zero(t, again.Cleared)
	})
}

func TestChatMigration_ReusesExistingConversation(t *testing.T) {
	db, repos, svc := newMigrationFixture(t)
	ctx := context.Background()
	ana := testutil.CreateUser(t, db, "ana")
	ben := testutil.CreateUser(t, db, "ben")

	existing, _, err := repos.Conversations.FindOrCreateDirect(ctx, ben.ID, ana.ID)
	require.NoError(t, err)

	old := time.Date(2023, 12, 24, 18, 0, 0, 0, time.UTC)
	first := legacyAt(t, db, ana.ID, ben.ID, "season's greetings", false, old)

	report, err := svc.BackfillConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.ConversationsReused)
	assert.Zero(t, report.ConversationsCreated)

	conv, err := repos.Conversations.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, conv.CreatedAt.Equal(first.CreatedAt), "earliest legacy message moves created_at back")
	assert.False(t, conv.UpdatedAt.Before(existing.UpdatedAt))

	msg, err := repos.Messages.FindByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, msg.ConversationID)
	assert.Equal(t, existing.ID, *msg.ConversationID)
}

func TestChatMigration_ReadFlagIgnoredWhenReceiptsExist(t *testing.T) {
	db, repos, svc := newMigrationFixture(t)
	ctx := context.Background()
	ana := testutil.CreateUser(t, db, "ana")
	ben := testutil.CreateUser(t, db, "ben")

	seen := legacyAt(t, db, ana.ID, ben.ID, "already read", true, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, db.Create(&models.MessageRead{MessageID: seen.ID, UserID: ana.ID, ReadAt: time.Now().UTC()}).Error)

	report, err := svc.BackfillConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.MessagesMigrated)
	assert.Zero(t, report.ReadsMigrated)

	conv, err := repos.Conversations.FindDirect(ctx, ana.ID, ben.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	history, _, err := repos.Messages.ListByConversation(ctx, conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []uint{ana.ID}, history[0].ReadBy)
}

func TestChatMigration_SkipsRowsWithoutPair(t *testing.T) {
	db, _, svc := newMigrationFixture(t)
	ctx := context.Background()
	ana := testutil.CreateUser(t, db, "ana")

	sender := ana.ID
	require.NoError(t, db.Create(&models.LegacyMessage{SenderID: &sender, Type: models.MessageTypeText, Content: "into the void"}).Error)
	testutil.InsertLegacyMessage(t, db, ana.ID, ana.ID, "note to self", false)

	report, err := svc.BackfillConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Processed)
	assert.Equal(t, int64(2), report.Skipped)
	assert.Zero(t, report.ConversationsCreated)

	var convCount int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&convCount).Error)
	assert.Zero(t, convCount)
}

func TestChatMigration_CleanupBeforeBackfillChangesNothing(t *testing.T) {
	db, _, svc := newMigrationFixture(t)
	ctx := context.Background()
	ana := testutil.CreateUser(t, db, "ana")
	ben := testutil.CreateUser(t, db, "ben")
	m := testutil.InsertLegacyMessage(t, db, ana.ID, ben.ID, "not yet", true)

	report, err := svc.CleanupDeprecatedFields(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Cleared)

	var row models.LegacyMessage
	require.NoError(t, db.First(&row, m.ID).Error)
	require.NotNil(t, row.ReceiverID)
	assert.Equal(t, ben.ID, *row.ReceiverID)
	assert.True(t, row.WasRead())
}

func TestChatMigration_LeavesRequestMessagesAlone(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")
	f.send(t, ana.ID, ben.ID, "pending hello")

	svc := NewChatMigrationService(repository.NewTransactor(f.db), f.repos, 0)
	report, err := svc.BackfillConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	conv, err := f.repos.Conversations.FindDirect(ctx, ana.ID, ben.ID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestBackfillReport_String(t *testing.T) {
	r := BackfillReport{Processed: 5, ConversationsCreated: 2, MessagesMigrated: 5}
	assert.Equal(t,
		"processed=5 skipped=0 conversations_created=2 conversations_reused=0 messages_migrated=5 reads_migrated=0 failed=0",
		r.String())
	assert.Equal(t, "cleared=3", CleanupReport{Cleared: 3}.String())
}
