package service

import (
	"context"

	"parley/internal/models"
)

// MessageDispatcher fans committed changes out to connected sessions. Implementations
// must not block the caller on network I/O and must not return delivery errors.
type MessageDispatcher interface {
	DispatchMessage(ctx context.Context, msg *models.Message, participantIDs []uint)
	DispatchRequest(ctx context.Context, req *models.MessageRequest, msg *models.Message)
	DispatchRequestAccepted(ctx context.Context, req *models.MessageRequest, conv *models.Conversation)
	DispatchRead(ctx context.Context, conversationID uint, participantIDs []uint, messageID, readerID uint)
	DispatchTyping(ctx context.Context, conversationID uint, participantIDs []uint, user models.UserSummary, isTyping bool)
}

// NopDispatcher drops every event. It is used by commands that run without a hub.
type NopDispatcher struct{}

func (NopDispatcher) DispatchMessage(context.Context, *models.Message, []uint) {}

func (NopDispatcher) DispatchRequest(context.Context, *models.MessageRequest, *models.Message) {}

func (NopDispatcher) DispatchRequestAccepted(context.Context, *models.MessageRequest, *models.Conversation) {
}

func (NopDispatcher) DispatchRead(context.Context, uint, []uint, uint, uint) {}

func (NopDispatcher) DispatchTyping(context.Context, uint, []uint, models.UserSummary, bool) {}
