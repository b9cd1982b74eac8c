// Package service provides the messaging business logic (sending, requests, conversations, migration).
package service

import (
	"context"
	"time"

	"parley/internal/cache"
	"parley/internal/featureflags"
	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/repository"
	"parley/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

// Delivery paths reported on parley_messages_sent_total.
const (
	PathConversation = "conversation"
	PathDirect       = "direct"
	PathConnected    = "connected"
	PathPending      = "pending"
	PathNewRequest   = "new_request"
	PathAccepted     = "implicit_accept"
)

// SendInput is the input for sending a message. Exactly one of ConversationID and
// ReceiverID addresses the message; ConversationID wins when both are set.
type SendInput struct {
	SenderID         uint
	ConversationID   uint
	ReceiverID       uint
	Type             string
	Content          string
	MediaURL         string
	ReplyToMessageID *uint
}

// SendResult describes where a sent message ended up. Conversation is nil when the
// message is waiting on Request. AcceptedRequest is set when the send accepted a
// request from the receiver.
type SendResult struct {
	Message             *models.Message        `json:"message"`
	Conversation        *models.Conversation   `json:"conversation,omitempty"`
	Request             *models.MessageRequest `json:"request,omitempty"`
	AcceptedRequest     *models.MessageRequest `json:"accepted_request,omitempty"`
	CreatedConversation bool                   `json:"created_conversation"`
	Path                string                 `json:"-"`
}

// DeliveryObserver is told about every committed send.
type DeliveryObserver interface {
	MessageDelivered(ctx context.Context, res *SendResult)
}

// PendingRequest is an inbox entry with the sender's display fields.
type PendingRequest struct {
	*models.MessageRequest
	Sender models.UserSummary `json:"sender"`
}

// RequestView is a message request together with the messages it holds.
type RequestView struct {
	Request  *models.MessageRequest `json:"request"`
	Messages []*models.Message      `json:"messages"`
}

// RelationshipStatus summarizes what stands between two users.
type RelationshipStatus struct {
	HasConversation bool                   `json:"has_conversation"`
	ConversationID  *uint                  `json:"conversation_id"`
	OutgoingPending *models.MessageRequest `json:"outgoing_pending"`
	IncomingPending *models.MessageRequest `json:"incoming_pending"`
}

// Gatekeeper decides whether a message goes straight into a conversation or waits
// behind a message request, and owns the request lifecycle.
type Gatekeeper struct {
	tx         repository.Transactor
	repos      repository.Repositories
	dispatcher MessageDispatcher
	flags      *featureflags.Manager
	observers  []DeliveryObserver
	order      *sendLocks
}

// NewGatekeeper returns a new Gatekeeper. A nil dispatcher drops realtime events.
func NewGatekeeper(tx repository.Transactor, repos repository.Repositories, dispatcher MessageDispatcher, flags *featureflags.Manager) *Gatekeeper {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	return &Gatekeeper{
		tx:         tx,
		repos:      repos,
		dispatcher: dispatcher,
		flags:      flags,
		order:      newSendLocks(),
	}
}

// Observe registers o for every committed send. It must be called before the
// gatekeeper serves traffic.
func (g *Gatekeeper) Observe(o DeliveryObserver) {
	g.observers = append(g.observers, o)
}

// Send validates and stores a message, routing it through the request flow when the
// sender and receiver share no open conversation.
func (g *Gatekeeper) Send(ctx context.Context, in SendInput) (res *SendResult, err error) {
	ctx, span := observability.StartSpan(ctx, "gatekeeper.send",
		attribute.Int64("sender_id", int64(in.SenderID)),
		attribute.Int64("conversation_id", int64(in.ConversationID)),
		attribute.Int64("receiver_id", int64(in.ReceiverID)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if in.SenderID == 0 {
		return nil, models.NewUnauthorizedError("Sender is required")
	}
	if in.ConversationID == 0 && in.ReceiverID == 0 {
		return nil, models.NewValidationError("conversation_id or receiver_id is required")
	}
	msgType, err := models.ParseMessageType(in.Type)
	if err != nil {
		return nil, err
	}
	content, err := validation.ValidateMessage(msgType, in.Content, in.MediaURL)
	if err != nil {
		return nil, err
	}

	key, err := g.orderingKey(ctx, in)
	if err != nil {
		return nil, err
	}
	unlock := g.order.lock(key)
	err = g.tx.WithinTx(ctx, func(repos repository.Repositories) error {
		msg, err := models.NewMessage(in.SenderID, msgType, content, in.MediaURL, in.ReplyToMessageID)
		if err != nil {
			return err
		}
		res = &SendResult{Message: msg}
		if in.ConversationID != 0 {
			return g.sendToConversation(ctx, repos, in.ConversationID, res)
		}
		return g.sendToUser(ctx, repos, in.ReceiverID, res)
	})
	if err != nil {
		unlock()
		return nil, err
	}
	g.dispatchSend(ctx, res)
	unlock()

	g.afterSend(ctx, res)
	return res, nil
}

func (g *Gatekeeper) sendToConversation(ctx context.Context, repos repository.Repositories, conversationID uint, res *SendResult) error {
	conv, err := repos.Conversations.FindByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(res.Message.SenderID) {
		return models.NewUnauthorizedError("You are not a participant in this conversation")
	}
	res.Conversation = conv
	res.Path = PathConversation
	return deliver(ctx, repos, conv, res.Message)
}

func (g *Gatekeeper) sendToUser(ctx context.Context, repos repository.Repositories, receiverID uint, res *SendResult) error {
	senderID := res.Message.SenderID
	if receiverID == senderID {
		return models.NewBadRequestError("Cannot send a message to yourself")
	}

	// Locking both users in id order serializes concurrent sends between the pair.
	users, err := repos.Users.LockByIDs(ctx, []uint{senderID, receiverID})
	if err != nil {
		return err
	}
	sender, receiver := users[senderID], users[receiverID]
	if sender == nil {
		return models.NewNotFoundError("User", senderID)
	}
	if receiver == nil {
		return models.NewNotFoundError("User", receiverID)
	}

	conv, err := repos.Conversations.FindDirect(ctx, senderID, receiverID)
	if err != nil {
		return err
	}
	if conv != nil {
		res.Conversation = conv
		res.Path = PathDirect
		return deliver(ctx, repos, conv, res.Message)
	}

	connected, err := g.connected(ctx, repos, sender, receiver)
	if err != nil {
		return err
	}
	if connected {
		conv, created, err := repos.Conversations.FindOrCreateDirect(ctx, senderID, receiverID)
		if err != nil {
			return err
		}
		res.Conversation = conv
		res.CreatedConversation = created
		res.Path = PathConnected
		return deliver(ctx, repos, conv, res.Message)
	}

	pending, err := repos.Requests.FindPending(ctx, senderID, receiverID, true)
	if err != nil {
		return err
	}
	if pending != nil {
		res.Path = PathPending
		return appendPending(ctx, repos, pending, res)
	}

	if g.flags.Enabled(featureflags.ReplyAcceptsRequest, senderID) {
		accepted, err := g.acceptReverse(ctx, repos, senderID, receiverID, res)
		if err != nil || accepted {
			return err
		}
	}

	req, err := models.NewMessageRequest(senderID, receiverID)
	if err != nil {
		return err
	}
	res.Path = PathNewRequest
	if err := repos.Requests.Create(ctx, req); err != nil {
		if !models.HasCode(err, models.CodeConflict) {
			return err
		}
		// Lost the race to a concurrent first contact in the same direction.
		existing, findErr := repos.Requests.FindPending(ctx, senderID, receiverID, true)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return err
		}
		req = existing
		res.Path = PathPending
	}
	return appendPending(ctx, repos, req, res)
}

// acceptReverse treats a reply to the receiver's PENDING request as accepting it.
// It reports false when there is no such request.
func (g *Gatekeeper) acceptReverse(ctx context.Context, repos repository.Repositories, senderID, receiverID uint, res *SendResult) (bool, error) {
	reverse, err := repos.Requests.FindPending(ctx, receiverID, senderID, true)
	if err != nil || reverse == nil {
		return false, err
	}
	conv, created, err := acceptRequest(ctx, repos, reverse)
	if err != nil {
		return false, err
	}
	res.AcceptedRequest = reverse
	res.Conversation = conv
	res.CreatedConversation = created
	res.Path = PathAccepted
	return true, deliver(ctx, repos, conv, res.Message)
}

// connected reports whether the pair may skip the request flow.
func (g *Gatekeeper) connected(ctx context.Context, repos repository.Repositories, sender, receiver *models.User) (bool, error) {
	if sender.IsBot || receiver.IsBot {
		return true, nil
	}
	if g.flags.Enabled(featureflags.MessageRequestsForFriends, sender.ID) {
		return false, nil
	}
	return repos.Friends.AreConnected(ctx, sender.ID, receiver.ID)
}

func deliver(ctx context.Context, repos repository.Repositories, conv *models.Conversation, msg *models.Message) error {
	if msg.ReplyToMessageID != nil {
		target, err := repos.Messages.FindByID(ctx, *msg.ReplyToMessageID)
		if err != nil {
			return err
		}
		if target.ConversationID == nil || *target.ConversationID != conv.ID {
			return models.NewBadRequestError("Reply target is not in this conversation")
		}
	}

	msg.ConversationID = &conv.ID
	if err := repos.Messages.Append(ctx, msg); err != nil {
		return err
	}
	preview, err := models.PreviewOf(msg)
	if err != nil {
		return err
	}
	if _, err := repos.Conversations.UpdateLastMessage(ctx, conv.ID, preview); err != nil {
		return err
	}
	conv.LastMessage = preview
	return repos.Conversations.RestoreForParticipants(ctx, conv.ID)
}

func appendPending(ctx context.Context, repos repository.Repositories, req *models.MessageRequest, res *SendResult) error {
	if res.Message.ReplyToMessageID != nil {
		return models.NewBadRequestError("Replies require a conversation")
	}
	if err := repos.Messages.AppendPending(ctx, res.Message, req.ID); err != nil {
		return err
	}
	if err := req.AddPending(res.Message); err != nil {
		return err
	}
	if err := repos.Requests.SavePending(ctx, req); err != nil {
		return err
	}
	res.Request = req
	return nil
}

// acceptRequest moves the queued messages of req into the pair's direct conversation
// and marks req ACCEPTED. The caller holds the row lock on req.
func acceptRequest(ctx context.Context, repos repository.Repositories, req *models.MessageRequest) (*models.Conversation, bool, error) {
	now := time.Now().UTC()
	if err := req.Transition(models.MessageRequestAccepted, now); err != nil {
		return nil, false, err
	}

	conv, created, err := repos.Conversations.FindOrCreateDirect(ctx, req.SenderID, req.ReceiverID)
	if err != nil {
		return nil, false, err
	}

	// FindByIDs returns created_at, id order.
	pending, err := repos.Messages.FindByIDs(ctx, req.PendingMessageIDs)
	if err != nil {
		return nil, false, err
	}
	if len(pending) > 0 {
		ids := make([]uint, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		if _, err := repos.Messages.Reparent(ctx, ids, conv.ID); err != nil {
			return nil, false, err
		}
		preview, err := models.PreviewOf(pending[len(pending)-1])
		if err != nil {
			return nil, false, err
		}
		if _, err := repos.Conversations.UpdateLastMessage(ctx, conv.ID, preview); err != nil {
			return nil, false, err
		}
		conv.LastMessage = preview
	}
	if err := repos.Conversations.RestoreForParticipants(ctx, conv.ID); err != nil {
		return nil, false, err
	}

	req.ConversationID = &conv.ID
	if err := repos.Requests.SaveTransition(ctx, req); err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

// dispatchSend enqueues the realtime events for a committed send. Callers hold the
// conversation's send lock.
func (g *Gatekeeper) dispatchSend(ctx context.Context, res *SendResult) {
	switch {
	case res.AcceptedRequest != nil:
		cache.InvalidatePendingRequestCount(ctx, res.AcceptedRequest.ReceiverID)
		g.dispatcher.DispatchRequestAccepted(ctx, res.AcceptedRequest, res.Conversation)
		g.dispatcher.DispatchMessage(ctx, res.Message, res.Conversation.ParticipantIDs())
	case res.Conversation != nil:
		g.dispatcher.DispatchMessage(ctx, res.Message, res.Conversation.ParticipantIDs())
	case res.Request != nil:
		cache.InvalidatePendingRequestCount(ctx, res.Request.ReceiverID)
		g.dispatcher.DispatchRequest(ctx, res.Request, res.Message)
	}
}

func (g *Gatekeeper) afterSend(ctx context.Context, res *SendResult) {
	observability.MessagesSent.WithLabelValues(string(res.Message.Type), res.Path).Inc()
	middleware.Logger.DebugContext(ctx, "Message sent",
		"message_id", res.Message.ID,
		"sender_id", res.Message.SenderID,
		"path", res.Path,
	)

	for _, o := range g.observers {
		o.MessageDelivered(ctx, res)
	}
}

// Accept converts a PENDING request into a direct conversation holding its messages.
func (g *Gatekeeper) Accept(ctx context.Context, requestID, actingUserID uint) (conv *models.Conversation, err error) {
	ctx, span := observability.StartSpan(ctx, "gatekeeper.accept", attribute.Int64("request_id", int64(requestID)))
	defer func() { observability.EndSpan(span, err) }()

	peek, err := g.repos.Requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	unlock := g.order.lock(pairOrderingKey(peek.SenderID, peek.ReceiverID))
	defer unlock()

	var req *models.MessageRequest
	err = g.tx.WithinTx(ctx, func(repos repository.Repositories) error {
		r, err := lockRespondable(ctx, repos, requestID, actingUserID)
		if err != nil {
			return err
		}
		conv, _, err = acceptRequest(ctx, repos, r)
		req = r
		return err
	})
	if err != nil {
		return nil, err
	}

	cache.InvalidatePendingRequestCount(ctx, req.ReceiverID)
	g.dispatcher.DispatchRequestAccepted(ctx, req, conv)
	return conv, nil
}

// Reject closes a PENDING request. Its messages stay unparented.
func (g *Gatekeeper) Reject(ctx context.Context, requestID, actingUserID uint) (*models.MessageRequest, error) {
	return g.close(ctx, requestID, actingUserID, models.MessageRequestRejected)
}

// Ignore closes a PENDING request without telling the sender.
func (g *Gatekeeper) Ignore(ctx context.Context, requestID, actingUserID uint) (*models.MessageRequest, error) {
	return g.close(ctx, requestID, actingUserID, models.MessageRequestIgnored)
}

func (g *Gatekeeper) close(ctx context.Context, requestID, actingUserID uint, status models.MessageRequestStatus) (*models.MessageRequest, error) {
	var req *models.MessageRequest
	err := g.tx.WithinTx(ctx, func(repos repository.Repositories) error {
		r, err := lockRespondable(ctx, repos, requestID, actingUserID)
		if err != nil {
			return err
		}
		if err := r.Transition(status, time.Now().UTC()); err != nil {
			return err
		}
		req = r
		return repos.Requests.SaveTransition(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	cache.InvalidatePendingRequestCount(ctx, req.ReceiverID)
	return req, nil
}

func lockRespondable(ctx context.Context, repos repository.Repositories, requestID, actingUserID uint) (*models.MessageRequest, error) {
	req, err := repos.Requests.FindByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ReceiverID != actingUserID {
		return nil, models.NewUnauthorizedError("Only the receiver can respond to this message request")
	}
	if req.Status != models.MessageRequestPending {
		return nil, models.NewBadRequestError("Message request is already " + string(req.Status))
	}
	return req, nil
}

// PendingRequestsForReceiver lists the caller's inbox, most recent activity first.
func (g *Gatekeeper) PendingRequestsForReceiver(ctx context.Context, userID uint) ([]PendingRequest, error) {
	reqs, err := g.repos.Requests.ListPendingForReceiver(ctx, userID)
	if err != nil {
		return nil, err
	}
	senderIDs := make([]uint, len(reqs))
	for i, r := range reqs {
		senderIDs[i] = r.SenderID
	}
	senders, err := g.repos.Users.GetByIDs(ctx, senderIDs)
	if err != nil {
		return nil, err
	}

	out := make([]PendingRequest, 0, len(reqs))
	for _, r := range reqs {
		entry := PendingRequest{MessageRequest: r}
		if u, ok := senders[r.SenderID]; ok {
			entry.Sender = u.Summary()
		} else {
			entry.Sender = models.UserSummary{ID: r.SenderID}
		}
		out = append(out, entry)
	}
	return out, nil
}

// PendingCount returns the number of PENDING requests addressed to userID.
func (g *Gatekeeper) PendingCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := cache.Aside(ctx, cache.PendingRequestCountKey(userID), &count, cache.PendingRequestCountTTL, func() error {
		n, err := g.repos.Requests.CountPendingForReceiver(ctx, userID)
		count = n
		return err
	})
	return count, err
}

// HasActiveRequest reports whether a PENDING request from sender to receiver exists.
func (g *Gatekeeper) HasActiveRequest(ctx context.Context, senderID, receiverID uint) (bool, error) {
	req, err := g.repos.Requests.FindPending(ctx, senderID, receiverID, false)
	if err != nil {
		return false, err
	}
	return req != nil, nil
}

// ViewRequest returns a request and its queued messages to either party.
func (g *Gatekeeper) ViewRequest(ctx context.Context, requestID, actingUserID uint) (*RequestView, error) {
	req, err := g.repos.Requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Involves(actingUserID) {
		return nil, models.NewUnauthorizedError("You cannot view this message request")
	}
	msgs, err := g.repos.Messages.FindByIDs(ctx, req.PendingMessageIDs)
	if err != nil {
		return nil, err
	}
	return &RequestView{Request: req, Messages: msgs}, nil
}

// RequestStatus reports the conversation and pending requests between two users.
func (g *Gatekeeper) RequestStatus(ctx context.Context, actingUserID, otherUserID uint) (*RelationshipStatus, error) {
	if actingUserID == otherUserID {
		return nil, models.NewBadRequestError("Cannot check status with yourself")
	}
	status := &RelationshipStatus{}

	conv, err := g.repos.Conversations.FindDirect(ctx, actingUserID, otherUserID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		status.HasConversation = true
		status.ConversationID = &conv.ID
	}
	if status.OutgoingPending, err = g.repos.Requests.FindPending(ctx, actingUserID, otherUserID, false); err != nil {
		return nil, err
	}
	if status.IncomingPending, err = g.repos.Requests.FindPending(ctx, otherUserID, actingUserID, false); err != nil {
		return nil, err
	}
	return status, nil
}
