package repository

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type messageFixture struct {
	db    *gorm.DB
	convs ConversationRepository
	msgs  MessageRepository
	ana   *models.User
	ben   *models.User
	conv  *models.Conversation
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	f := &messageFixture{
		db:    db,
		convs: NewConversationRepository(db),
		msgs:  NewMessageRepository(db),
		ana:   testutil.CreateUser(t, db, "ana"),
		ben:   testutil.CreateUser(t, db, "ben"),
	}
	conv, _, err := f.convs.FindOrCreateDirect(context.Background(), f.ana.ID, f.ben.ID)
	require.NoError(t, err)
	f.conv = conv
	return f
}

func (f *messageFixture) appendAt(t *testing.T, sender uint, content string, at time.Time) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(sender, models.MessageTypeText, content, "", nil)
	require.NoError(t, err)
	msg.ConversationID = &f.conv.ID
	msg.CreatedAt = at
	require.NoError(t, f.msgs.Append(context.Background(), msg))
	return msg
}

func TestMessageRepository_Append(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg := f.appendAt(t, f.ana.ID, "hello", time.Time{})
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, []uint{}, msg.ReadBy)

	t.Run("Missing conversation", func(t *testing.T) {
		missing := uint(4242)
		m, err := models.NewMessage(f.ana.ID, models.MessageTypeText, "lost", "", nil)
		require.NoError(t, err)
		m.ConversationID = &missing
		err = f.msgs.Append(ctx, m)
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})

	t.Run("Conversation required", func(t *testing.T) {
		m, err := models.NewMessage(f.ana.ID, models.MessageTypeText, "orphan", "", nil)
		require.NoError(t, err)
		err = f.msgs.Append(ctx, m)
		assert.True(t, models.HasCode(err, models.CodeValidation))
	})
}

func TestMessageRepository_MediaAndRepliesRoundTrip(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	root := f.appendAt(t, f.ana.ID, "look at this", base)

	media := []struct {
		msgType models.MessageType
		url     string
	}{
		{models.MessageTypeImage, "https://cdn.example.test/cat.png"},
		{models.MessageTypeVideo, "https://cdn.example.test/cat.mp4"},
		{models.MessageTypeAudio, "https://cdn.example.test/purr.ogg"},
	}
	var sent []*models.Message
	for i, m := range media {
		msg, err := models.NewMessage(f.ben.ID, m.msgType, "", m.url, &root.ID)
		require.NoError(t, err)
		msg.ConversationID = &f.conv.ID
		msg.CreatedAt = base.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, f.msgs.Append(ctx, msg))
		sent = append(sent, msg)
	}

	page, _, err := f.msgs.ListByConversation(ctx, f.conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, root.ID, page[3].ID)
	assert.Nil(t, page[3].ReplyToMessageID)
	assert.Empty(t, page[3].MediaURL)

	for i, m := range media {
		got := page[len(media)-1-i]
		assert.Equal(t, sent[i].ID, got.ID)
		assert.Equal(t, m.msgType, got.Type)
		assert.Equal(t, m.url, got.MediaURL)
		require.NotNil(t, got.ReplyToMessageID)
		assert.Equal(t, root.ID, *got.ReplyToMessageID)
	}

	one, err := f.msgs.FindByID(ctx, sent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, media[0].url, one.MediaURL)
	require.NotNil(t, one.ReplyToMessageID)
	assert.Equal(t, root.ID, *one.ReplyToMessageID)
}

func TestMessageRepository_ListByConversation_Pages(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var sent []*models.Message
	for i := 0; i < 5; i++ {
		sent = append(sent, f.appendAt(t, f.ana.ID, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)))
	}
	// Same timestamp as the newest row; the id breaks the tie.
	sent = append(sent, f.appendAt(t, f.ben.ID, "tie", sent[4].CreatedAt))

	page1, next, err := f.msgs.ListByConversation(ctx, f.conv.ID, "", 4)
	require.NoError(t, err)
	require.Len(t, page1, 4)
	assert.Equal(t, sent[5].ID, page1[0].ID)
	assert.Equal(t, sent[4].ID, page1[1].ID)
	require.NotEmpty(t, next)

	page2, next, err := f.msgs.ListByConversation(ctx, f.conv.ID, next, 4)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, sent[1].ID, page2[0].ID)
	assert.Equal(t, sent[0].ID, page2[1].ID)
	assert.Empty(t, next)

	_, _, err = f.msgs.ListByConversation(ctx, f.conv.ID, "not-a-cursor", 4)
	assert.True(t, models.HasCode(err, models.CodeBadRequest))
}

func TestMessageRepository_MarkRead(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg := f.appendAt(t, f.ana.ID, "read me", time.Time{})

	fresh, err := f.msgs.MarkRead(ctx, msg.ID, f.ben.ID)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = f.msgs.MarkRead(ctx, msg.ID, f.ben.ID)
	require.NoError(t, err)
	assert.False(t, fresh)

	_, err = f.msgs.MarkRead(ctx, 9999, f.ben.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	page, _, err := f.msgs.ListByConversation(ctx, f.conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, []uint{f.ben.ID}, page[0].ReadBy)
	assert.True(t, page[0].IsReadBy(f.ben.ID))
}

func TestMessageRepository_Reparent(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	var pending []uint
	for _, text := range []string{"one", "two"} {
		m, err := models.NewMessage(f.ana.ID, models.MessageTypeText, text, "", nil)
		require.NoError(t, err)
		require.NoError(t, f.msgs.AppendPending(ctx, m, 77))
		assert.Nil(t, m.ConversationID)
		pending = append(pending, m.ID)
	}
	parented := f.appendAt(t, f.ben.ID, "already here", time.Time{})

	cy := testutil.CreateUser(t, f.db, "cy")
	other, _, err := f.convs.FindOrCreateDirect(ctx, f.ana.ID, cy.ID)
	require.NoError(t, err)

	res, err := f.msgs.Reparent(ctx, append(pending, parented.ID), other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Updated)
	assert.Equal(t, int64(1), res.AlreadyParented)

	moved, err := f.msgs.FindByIDs(ctx, pending)
	require.NoError(t, err)
	require.Len(t, moved, 2)
	for _, m := range moved {
		require.NotNil(t, m.ConversationID)
		assert.Equal(t, other.ID, *m.ConversationID)
	}

	untouched, err := f.msgs.FindByID(ctx, parented.ID)
	require.NoError(t, err)
	assert.Equal(t, f.conv.ID, *untouched.ConversationID)

	// Running it again is a no-op.
	res, err = f.msgs.Reparent(ctx, pending, other.ID)
	require.NoError(t, err)
	assert.Equal(t, ReparentResult{}, res)
}

func TestCursor_RoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	cursor := EncodeCursor(at, 42)

	gotAt, gotID, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, uint(42), gotID)

	for _, bad := range []string{"", "123", "x_1", "123_y", "123_0"} {
		_, _, err := DecodeCursor(bad)
		assert.Error(t, err, bad)
	}
}
