package service

import (
	"context"
	"sync"
	"testing"

	"parley/internal/models"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatekeeper_FirstContactQueuesUntilAccepted(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")

	hi := f.send(t, ana.ID, ben.ID, "hi")
	assert.Equal(t, PathNewRequest, hi.Path)
	assert.Nil(t, hi.Conversation)
	require.NotNil(t, hi.Request)
	assert.Nil(t, hi.Message.ConversationID)

	there := f.send(t, ana.ID, ben.ID, "there")
	assert.Equal(t, PathPending, there.Path)
	require.NotNil(t, there.Request)
	assert.Equal(t, hi.Request.ID, there.Request.ID)

	req, err := f.repos.Requests.FindByID(ctx, hi.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{hi.Message.ID, there.Message.ID}, []uint(req.PendingMessageIDs))
	assert.Equal(t, "there", req.LastMessageContent)
	assert.Equal(t, models.MessageRequestPending, req.Status)

	conv, err := f.repos.Conversations.FindDirect(ctx, ana.ID, ben.ID)
	require.NoError(t, err)
	assert.Nil(t, conv, "no conversation before acceptance")
	assert.Equal(t, []string{"message_request", "message_request"}, f.dispatcher.kinds())

	count, err := f.gatekeeper.PendingCount(ctx, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	accepted, err := f.gatekeeper.Accept(ctx, req.ID, ben.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{ana.ID, ben.ID}, accepted.ParticipantIDs())
	assert.Equal(t, "message_request_accepted", f.dispatcher.last().kind)

	history, _, err := f.repos.Messages.ListByConversation(ctx, accepted.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, there.Message.ID, history[0].ID)
	assert.Equal(t, hi.Message.ID, history[1].ID)
	assert.False(t, history[0].CreatedAt.Before(history[1].CreatedAt))

	stored, err := f.repos.Conversations.FindByID(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, "there", stored.LastMessage.Content)
	require.NotNil(t, stored.LastMessage.MessageID)
	assert.Equal(t, there.Message.ID, *stored.LastMessage.MessageID)

	req, err = f.repos.Requests.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRequestAccepted, req.Status)
	require.NotNil(t, req.ConversationID)
	assert.Equal(t, accepted.ID, *req.ConversationID)
	assert.NotNil(t, req.RespondedAt)

	count, err = f.gatekeeper.PendingCount(ctx, ben.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	t.Run("Later sends go straight to the conversation", func(t *testing.T) {
		res := f.send(t, ana.ID, ben.ID, "again")
		assert.Equal(t, PathDirect, res.Path)
		require.NotNil(t, res.Conversation)
		assert.Equal(t, accepted.ID, res.Conversation.ID)
		last := f.dispatcher.last()
		assert.Equal(t, "message", last.kind)
		assert.ElementsMatch(t, []uint{ana.ID, ben.ID}, last.participants)
	})
}

func TestGatekeeper_RespondingRequiresPendingReceiver(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")

	req := f.send(t, ana.ID, ben.ID, "hello").Request
	require.NotNil(t, req)

	t.Run("Sender cannot accept", func(t *testing.T) {
		_, err := f.gatekeeper.Accept(ctx, req.ID, ana.ID)
		assertAppErrorCode(t, err, models.CodeUnauthorized)
	})

	t.Run("Unknown request", func(t *testing.T) {
		_, err := f.gatekeeper.Reject(ctx, 9999, ben.ID)
		assertAppErrorCode(t, err, models.CodeNotFound)
	})

	_, err := f.gatekeeper.Accept(ctx, req.ID, ben.ID)
	require.NoError(t, err)

	for name, respond := range map[string]func() error{
		"Accept": func() error { _, err := f.gatekeeper.Accept(ctx, req.ID, ben.ID); return err },
		"Reject": func() error { _, err := f.gatekeeper.Reject(ctx, req.ID, ben.ID); return err },
		"Ignore": func() error { _, err := f.gatekeeper.Ignore(ctx, req.ID, ben.ID); return err },
	} {
		t.Run(name+" after accept", func(t *testing.T) {
			assertAppErrorCode(t, respond(), models.CodeBadRequest)
		})
	}
}

func TestGatekeeper_RejectKeepsMessagesUnparented(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")
	cy := testutil.CreateUser(t, f.db, "cy")

	sent := f.send(t, ana.ID, ben.ID, "please?")
	rejected, err := f.gatekeeper.Reject(ctx, sent.Request.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRequestRejected, rejected.Status)

	msg, err := f.repos.Messages.FindByID(ctx, sent.Message.ID)
	require.NoError(t, err)
	assert.Nil(t, msg.ConversationID)

	view, err := f.gatekeeper.ViewRequest(ctx, sent.Request.ID, ana.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "please?", view.Messages[0].Content)

	_, err = f.gatekeeper.ViewRequest(ctx, sent.Request.ID, cy.ID)
	assertAppErrorCode(t, err, models.CodeUnauthorized)

	t.Run("A new request may follow a terminal one", func(t *testing.T) {
		again := f.send(t, ana.ID, ben.ID, "one more try")
		assert.Equal(t, PathNewRequest, again.Path)
		require.NotNil(t, again.Request)
		assert.NotEqual(t, sent.Request.ID, again.Request.ID)

		ignored, err := f.gatekeeper.Ignore(ctx, again.Request.ID, ben.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageRequestIgnored, ignored.Status)
	})
}

func TestGatekeeper_ReplyToPendingRequestOpensOwnRequest(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")

	first := f.send(t, ana.ID, ben.ID, "hi ben")
	reply := f.send(t, ben.ID, ana.ID, "hi ana")

	assert.Equal(t, PathNewRequest, reply.Path)
	assert.Nil(t, reply.Conversation)
	assert.Nil(t, reply.AcceptedRequest)
	require.NotNil(t, reply.Request)
	assert.NotEqual(t, first.Request.ID, reply.Request.ID)
	assert.Equal(t, ben.ID, reply.Request.SenderID)
	assert.Equal(t, ana.ID, reply.Request.ReceiverID)
	assert.Equal(t, []string{"message_request", "message_request"}, f.dispatcher.kinds())

	original, err := f.repos.Requests.FindByID(ctx, first.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRequestPending, original.Status)

	status, err := f.gatekeeper.RequestStatus(ctx, ana.ID, ben.ID)
	require.NoError(t, err)
	assert.False(t, status.HasConversation)
	require.NotNil(t, status.OutgoingPending)
	require.NotNil(t, status.IncomingPending)
	assert.Equal(t, first.Request.ID, status.OutgoingPending.ID)
	assert.Equal(t, reply.Request.ID, status.IncomingPending.ID)

	inbox, err := f.gatekeeper.PendingRequestsForReceiver(ctx, ana.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, reply.Request.ID, inbox[0].ID)

	// Accepting either side opens the conversation; the other request can still be
	// accepted into the same conversation.
	conv, err := f.gatekeeper.Accept(ctx, first.Request.ID, ben.ID)
	require.NoError(t, err)
	again, err := f.gatekeeper.Accept(ctx, reply.Request.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	history, _, err := f.repos.Messages.ListByConversation(ctx, conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, reply.Message.ID, history[0].ID)
	assert.Equal(t, first.Message.ID, history[1].ID)
}

func TestGatekeeper_ReplyAcceptsRequestWhenFlagged(t *testing.T) {
	f := newMessagingFixture(t, "reply_accepts_request=on")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")

	first := f.send(t, ana.ID, ben.ID, "hi ben")
	reply := f.send(t, ben.ID, ana.ID, "hi ana")

	assert.Equal(t, PathAccepted, reply.Path)
	require.NotNil(t, reply.AcceptedRequest)
	assert.Equal(t, first.Request.ID, reply.AcceptedRequest.ID)
	require.NotNil(t, reply.Conversation)
	assert.True(t, reply.CreatedConversation)
	assert.Equal(t, []string{"message_request", "message_request_accepted", "message"}, f.dispatcher.kinds())

	history, _, err := f.repos.Messages.ListByConversation(ctx, reply.Conversation.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, reply.Message.ID, history[0].ID)
	assert.Equal(t, first.Message.ID, history[1].ID)

	status, err := f.gatekeeper.RequestStatus(ctx, ana.ID, ben.ID)
	require.NoError(t, err)
	assert.True(t, status.HasConversation)
	assert.Nil(t, status.OutgoingPending)
	assert.Nil(t, status.IncomingPending)
}

func TestGatekeeper_ConcurrentFirstContactYieldsOneConversation(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")

	var wg sync.WaitGroup
	results := make([]*SendResult, 2)
	errs := make([]error, 2)
	for i, pair := range [][2]uint{{ana.ID, ben.ID}, {ben.ID, ana.ID}} {
		wg.Add(1)
		go func(i int, from, to uint) {
			defer wg.Done()
			results[i], errs[i] = f.gatekeeper.Send(ctx, SendInput{SenderID: from, ReceiverID: to, Content: "hey"})
		}(i, pair[0], pair[1])
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var convCount, pendingCount int64
	require.NoError(t, f.db.Model(&models.Conversation{}).Count(&convCount).Error)
	require.NoError(t, f.db.Model(&models.MessageRequest{}).Where("status = ?", models.MessageRequestPending).Count(&pendingCount).Error)
	assert.Zero(t, convCount)
	assert.Equal(t, int64(2), pendingCount)

	// Both receivers accept at once.
	convs := make([]*models.Conversation, 2)
	accepters := []uint{ben.ID, ana.ID}
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			convs[i], errs[i] = f.gatekeeper.Accept(ctx, results[i].Request.ID, accepters[i])
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, convs[0].ID, convs[1].ID)

	require.NoError(t, f.db.Model(&models.Conversation{}).Count(&convCount).Error)
	require.NoError(t, f.db.Model(&models.MessageRequest{}).Where("status = ?", models.MessageRequestPending).Count(&pendingCount).Error)
	assert.Equal(t, int64(1), convCount)
	assert.Zero(t, pendingCount)

	history, _, err := f.repos.Messages.ListByConversation(ctx, convs[0].ID, "", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestGatekeeper_ConnectedUsersSkipRequests(t *testing.T) {
	t.Run("Friends go direct", func(t *testing.T) {
		f := newMessagingFixture(t, "")
		ana := testutil.CreateUser(t, f.db, "ana")
		ben := testutil.CreateUser(t, f.db, "ben")
		testutil.Befriend(t, f.db, ana.ID, ben.ID)

		res := f.send(t, ana.ID, ben.ID, "yo")
		assert.Equal(t, PathConnected, res.Path)
		assert.True(t, res.CreatedConversation)
		assert.Nil(t, res.Request)
		require.NotNil(t, res.Message.ConversationID)
		assert.Equal(t, res.Conversation.ID, *res.Message.ConversationID)
	})

	t.Run("Flag forces friends through requests", func(t *testing.T) {
		f := newMessagingFixture(t, "message_requests_for_friends=on")
		ana := testutil.CreateUser(t, f.db, "ana")
		ben := testutil.CreateUser(t, f.db, "ben")
		testutil.Befriend(t, f.db, ana.ID, ben.ID)

		res := f.send(t, ana.ID, ben.ID, "yo")
		assert.Equal(t, PathNewRequest, res.Path)
		assert.Nil(t, res.Conversation)
	})

	t.Run("Bots are always connected", func(t *testing.T) {
		f := newMessagingFixture(t, "message_requests_for_friends=on")
		ana := testutil.CreateUser(t, f.db, "ana")
		bot := testutil.CreateUser(t, f.db, "helper")
		require.NoError(t, f.db.Model(bot).Update("is_bot", true).Error)

		res := f.send(t, ana.ID, bot.ID, "help")
		assert.Equal(t, PathConnected, res.Path)
	})
}

func TestGatekeeper_SendValidation(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")
	cy := testutil.CreateUser(t, f.db, "cy")
	testutil.Befriend(t, f.db, ana.ID, ben.ID)
	conv := f.send(t, ana.ID, ben.ID, "ours").Conversation

	tests := []struct {
		name string
		in   SendInput
		code string
	}{
		{"No address", SendInput{SenderID: ana.ID, Content: "x"}, models.CodeValidation},
		{"Empty text", SendInput{SenderID: ana.ID, ReceiverID: ben.ID, Content: "   "}, models.CodeValidation},
		{"Unknown type", SendInput{SenderID: ana.ID, ReceiverID: ben.ID, Type: "sticker", Content: "x"}, models.CodeBadRequest},
		{"Image without media", SendInput{SenderID: ana.ID, ReceiverID: ben.ID, Type: "image"}, models.CodeValidation},
		{"Self", SendInput{SenderID: ana.ID, ReceiverID: ana.ID, Content: "me"}, models.CodeBadRequest},
		{"Unknown receiver", SendInput{SenderID: ana.ID, ReceiverID: 9999, Content: "hello?"}, models.CodeNotFound},
		{"Not a participant", SendInput{SenderID: cy.ID, ConversationID: conv.ID, Content: "let me in"}, models.CodeUnauthorized},
		{"Missing conversation", SendInput{SenderID: ana.ID, ConversationID: 9999, Content: "anyone?"}, models.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gatekeeper.Send(ctx, tt.in)
			assertAppErrorCode(t, err, tt.code)
		})
	}

	t.Run("Media message previews as placeholder", func(t *testing.T) {
		res, err := f.gatekeeper.Send(ctx, SendInput{
			SenderID:       ben.ID,
			ConversationID: conv.ID,
			Type:           "IMAGE",
			MediaURL:       "https://cdn.example.test/cat.png",
		})
		require.NoError(t, err)
		assert.Equal(t, PathConversation, res.Path)
		assert.Equal(t, models.PreviewImage, res.Conversation.LastMessage.Content)
	})

	t.Run("Reply must target the same conversation", func(t *testing.T) {
		other := f.send(t, ana.ID, cy.ID, "elsewhere")
		_, err := f.gatekeeper.Send(ctx, SendInput{
			SenderID:         ana.ID,
			ConversationID:   conv.ID,
			Content:          "re",
			ReplyToMessageID: &other.Message.ID,
		})
		assertAppErrorCode(t, err, models.CodeBadRequest)
	})
}

func TestGatekeeper_SendRestoresSoftDeletedConversation(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")
	testutil.Befriend(t, f.db, ana.ID, ben.ID)

	conv := f.send(t, ana.ID, ben.ID, "first").Conversation
	require.NoError(t, f.convs.SoftDelete(ctx, conv.ID, ana.ID, 0))

	mine, err := f.convs.List(ctx, ana.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
	theirs, err := f.convs.List(ctx, ben.ID)
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	f.send(t, ben.ID, ana.ID, "you there?")
	mine, err = f.convs.List(ctx, ana.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "you there?", mine[0].LastMessage.Content)
}

func TestGatekeeper_PendingInboxOrdering(t *testing.T) {
	f := newMessagingFixture(t, "")
	ctx := context.Background()
	ana := testutil.CreateUser(t, f.db, "ana")
	ben := testutil.CreateUser(t, f.db, "ben")
	cy := testutil.CreateUser(t, f.db, "cy")

	fromBen := f.send(t, ben.ID, ana.ID, "from ben").Request
	fromCy := f.send(t, cy.ID, ana.ID, "from cy").Request
	f.send(t, ben.ID, ana.ID, "ben again")

	inbox, err := f.gatekeeper.PendingRequestsForReceiver(ctx, ana.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, fromBen.ID, inbox[0].ID)
	assert.Equal(t, "ben", inbox[0].Sender.Username)
	assert.Equal(t, "ben again", inbox[0].LastMessageContent)
	assert.Equal(t, fromCy.ID, inbox[1].ID)

	active, err := f.gatekeeper.HasActiveRequest(ctx, cy.ID, ana.ID)
	require.NoError(t, err)
	assert.True(t, active)
	active, err = f.gatekeeper.HasActiveRequest(ctx, ana.ID, cy.ID)
	require.NoError(t, err)
	assert.False(t, active)

	status, err := f.gatekeeper.RequestStatus(ctx, ana.ID, cy.ID)
	require.NoError(t, err)
	assert.False(t, status.HasConversation)
	assert.Nil(t, status.OutgoingPending)
	require.NotNil(t, status.IncomingPending)
	assert.Equal(t, fromCy.ID, status.IncomingPending.ID)
}
