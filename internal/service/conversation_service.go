package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/validation"

	"gorm.io/datatypes"
)

// ConversationService provides conversation reads, receipts and group management.
type ConversationService struct {
	repos      repository.Repositories
	dispatcher MessageDispatcher
}

// CreateGroupInput is the input for creating a group conversation.
type CreateGroupInput struct {
	CreatorID uint
	Name      string
	Avatar    string
	MemberIDs []uint
}

// NewConversationService returns a new ConversationService.
func NewConversationService(repos repository.Repositories, dispatcher MessageDispatcher) *ConversationService {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	return &ConversationService{repos: repos, dispatcher: dispatcher}
}

// List returns the caller's visible conversations, most recent activity first.
func (s *ConversationService) List(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	return s.repos.Conversations.ListForUser(ctx, userID)
}

// Get returns a conversation the caller participates in.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID uint) (*models.Conversation, error) {
	conv, err := s.repos.Conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, models.NewUnauthorizedError("You are not a participant in this conversation")
	}
	return conv, nil
}

// History pages a conversation's messages, newest first.
func (s *ConversationService) History(ctx context.Context, conversationID, userID uint, cursor string, limit int) ([]*models.Message, string, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, "", err
	}
	return s.repos.Messages.ListByConversation(ctx, conversationID, cursor, limit)
}

// MarkRead records that readerID has read messageID and notifies the other
// participants the first time.
func (s *ConversationService) MarkRead(ctx context.Context, messageID, readerID uint) error {
	msg, err := s.repos.Messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID == nil {
		return models.NewBadRequestError("Message is waiting on a message request")
	}
	participants, err := s.repos.Conversations.ParticipantIDs(ctx, *msg.ConversationID)
	if err != nil {
		return err
	}
	if !slices.Contains(participants, readerID) {
		return models.NewUnauthorizedError("You are not a participant in this conversation")
	}

	fresh, err := s.repos.Messages.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return err
	}
	if fresh {
		s.dispatcher.DispatchRead(ctx, *msg.ConversationID, participants, messageID, readerID)
	}
	return nil
}

// SoftDelete hides a conversation from targetUserID's list. Users may only hide
// conversations for themselves.
func (s *ConversationService) SoftDelete(ctx context.Context, conversationID, actingUserID, targetUserID uint) error {
	if targetUserID == 0 {
		targetUserID = actingUserID
	}
	if targetUserID != actingUserID {
		return models.NewForbiddenError("You can only delete conversations for yourself")
	}
	if err := s.requireParticipant(ctx, conversationID, actingUserID); err != nil {
		return err
	}
	return s.repos.Conversations.SoftDeleteForUser(ctx, conversationID, actingUserID)
}

// OpenDirect returns the direct conversation with otherUserID, creating it when the two
// users are connected.
func (s *ConversationService) OpenDirect(ctx context.Context, userID, otherUserID uint) (*models.Conversation, bool, error) {
	if userID == otherUserID {
		return nil, false, models.NewBadRequestError("Cannot start a conversation with yourself")
	}
	existing, err := s.repos.Conversations.FindDirect(ctx, userID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	other, err := s.repos.Users.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, false, err
	}
	me, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if !me.IsBot && !other.IsBot {
		connected, err := s.repos.Friends.AreConnected(ctx, userID, otherUserID)
		if err != nil {
			return nil, false, err
		}
		if !connected {
			return nil, false, models.NewForbiddenError("Send a message request to start a conversation with this user")
		}
	}
	return s.repos.Conversations.FindOrCreateDirect(ctx, userID, otherUserID)
}

// CreateGroup creates a group conversation with the creator as ADMIN.
func (s *ConversationService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Conversation, error) {
	name, err := validation.ValidateGroupName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Avatar != "" {
		if err := validation.ValidateMediaURL(in.Avatar); err != nil {
			return nil, err
		}
	}
	members := models.UniqueIDs(in.MemberIDs)
	if len(members)+1 > validation.MaxGroupMembers {
		return nil, models.NewValidationError(fmt.Sprintf("Groups are limited to %d members", validation.MaxGroupMembers))
	}
	return s.repos.Conversations.CreateGroup(ctx, in.CreatorID, name, in.Avatar, members)
}

// AddMembers adds users to a group. Only group admins may add members.
func (s *ConversationService) AddMembers(ctx context.Context, conversationID, actingUserID uint, userIDs []uint) (*models.Conversation, error) {
	conv, err := s.adminGroup(ctx, conversationID, actingUserID)
	if err != nil {
		return nil, err
	}
	ids := models.UniqueIDs(userIDs)
	if len(ids) == 0 {
		return nil, models.NewValidationError("At least one user is required")
	}
	if len(conv.ParticipantIDs())+len(ids) > validation.MaxGroupMembers {
		return nil, models.NewValidationError(fmt.Sprintf("Groups are limited to %d members", validation.MaxGroupMembers))
	}
	if err := s.repos.Conversations.AddMembers(ctx, conversationID, ids); err != nil {
		return nil, err
	}
	return s.repos.Conversations.FindByID(ctx, conversationID)
}

// RemoveMember removes userID from a group. Admins may remove anyone; members may
// only leave.
func (s *ConversationService) RemoveMember(ctx context.Context, conversationID, actingUserID, userID uint) error {
	conv, err := s.repos.Conversations.FindByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return models.NewBadRequestError("Direct conversations have a fixed roster")
	}
	role := conv.RoleOf(actingUserID)
	if role == "" {
		return models.NewUnauthorizedError("You are not a participant in this conversation")
	}
	if actingUserID != userID && role != models.MemberRoleAdmin {
		return models.NewForbiddenError("Only group admins can remove members")
	}
	return s.repos.Conversations.RemoveMember(ctx, conversationID, userID)
}

// UpdateGroupInfo renames a group or changes its avatar. Only admins may do this.
func (s *ConversationService) UpdateGroupInfo(ctx context.Context, conversationID, actingUserID uint, name, avatar string) (*models.Conversation, error) {
	conv, err := s.adminGroup(ctx, conversationID, actingUserID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = conv.Name
	}
	name, err = validation.ValidateGroupName(name)
	if err != nil {
		return nil, err
	}
	if avatar == "" {
		avatar = conv.Avatar
	} else if err := validation.ValidateMediaURL(avatar); err != nil {
		return nil, err
	}
	if err := s.repos.Conversations.UpdateGroupInfo(ctx, conversationID, name, avatar); err != nil {
		return nil, err
	}
	conv.Name, conv.Avatar = name, avatar
	return conv, nil
}

// UpdateTheme stores a conversation theme. Any participant may change it.
func (s *ConversationService) UpdateTheme(ctx context.Context, conversationID, actingUserID uint, theme json.RawMessage) error {
	if err := validation.ValidateTheme(theme); err != nil {
		return err
	}
	if err := s.requireParticipant(ctx, conversationID, actingUserID); err != nil {
		return err
	}
	return s.repos.Conversations.UpdateTheme(ctx, conversationID, datatypes.JSON(theme))
}

// Typing relays a typing indicator to the other participants.
func (s *ConversationService) Typing(ctx context.Context, conversationID, userID uint, isTyping bool) error {
	participants, err := s.repos.Conversations.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	if !slices.Contains(participants, userID) {
		return models.NewUnauthorizedError("You are not a participant in this conversation")
	}
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	s.dispatcher.DispatchTyping(ctx, conversationID, participants, user.Summary(), isTyping)
	return nil
}

func (s *ConversationService) requireParticipant(ctx context.Context, conversationID, userID uint) error {
	ok, err := s.repos.Conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewUnauthorizedError("You are not a participant in this conversation")
	}
	return nil
}

func (s *ConversationService) adminGroup(ctx context.Context, conversationID, actingUserID uint) (*models.Conversation, error) {
	conv, err := s.repos.Conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsDirect() {
		return nil, models.NewBadRequestError("Direct conversations cannot be managed")
	}
	switch conv.RoleOf(actingUserID) {
	case models.MemberRoleAdmin:
		return conv, nil
	case "":
		return nil, models.NewUnauthorizedError("You are not a participant in this conversation")
	default:
		return nil, models.NewForbiddenError("Only group admins can manage this conversation")
	}
}
