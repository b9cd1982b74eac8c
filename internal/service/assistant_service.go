package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"parley/internal/featureflags"
	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	assistantReplyTimeout = 15 * time.Second
	assistantWelcome      = "Hi! I'm the Parley assistant. Message me any time and I'll do my best to help."
)

// Responder produces the assistant's reply to a message. An empty reply sends nothing.
type Responder interface {
	Reply(ctx context.Context, conv *models.Conversation, msg *models.Message) (string, error)
}

// CannedResponder answers every text message with a short acknowledgement.
type CannedResponder struct{}

func (CannedResponder) Reply(_ context.Context, _ *models.Conversation, msg *models.Message) (string, error) {
	if msg.Type != models.MessageTypeText {
		return "Thanks, I got your attachment.", nil
	}
	text := []rune(strings.TrimSpace(msg.Content))
	if len(text) > 80 {
		text = append(text[:80], []rune("...")...)
	}
	return fmt.Sprintf("You said: %q. A human will follow up if needed.", string(text)), nil
}

// AssistantService owns the bot identity and answers messages sent to it.
type AssistantService struct {
	repos      repository.Repositories
	gatekeeper *Gatekeeper
	flags      *featureflags.Manager
	responder  Responder
	username   string

	mu  sync.RWMutex
	bot *models.User
	wg  sync.WaitGroup
}

// NewAssistantService returns a new AssistantService and subscribes it to the
// gatekeeper's deliveries. A nil responder disables replies.
func NewAssistantService(repos repository.Repositories, gatekeeper *Gatekeeper, flags *featureflags.Manager, username string, responder Responder) *AssistantService {
	s := &AssistantService{
		repos:      repos,
		gatekeeper: gatekeeper,
		flags:      flags,
		responder:  responder,
		username:   username,
	}
	gatekeeper.Observe(s)
	return s
}

// EnsureAssistantUser returns the bot user, creating it on first use.
func (s *AssistantService) EnsureAssistantUser(ctx context.Context) (*models.User, error) {
	if bot := s.Bot(); bot != nil {
		return bot, nil
	}

	user, err := s.repos.Users.GetByUsername(ctx, s.username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		hash, herr := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
		if herr != nil {
			return nil, models.NewInternalError(herr)
		}
		user = &models.User{
			Username: s.username,
			Email:    s.username + "@parley.local",
			Password: string(hash),
			Bio:      "Parley assistant",
			IsBot:    true,
		}
		if cerr := s.repos.Users.Create(ctx, user); cerr != nil {
			// Another instance created it first.
			existing, rerr := s.repos.Users.GetByUsername(ctx, s.username)
			if rerr != nil || existing == nil {
				return nil, cerr
			}
			user = existing
		}
	}
	if !user.IsBot {
		user.IsBot = true
		if err := s.repos.Users.Update(ctx, user); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.bot = user
	s.mu.Unlock()
	return user, nil
}

// Bot returns the cached bot user, or nil before EnsureAssistantUser succeeded.
func (s *AssistantService) Bot() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bot
}

// StartAssistantConversation opens the user's direct conversation with the bot and
// greets them the first time.
func (s *AssistantService) StartAssistantConversation(ctx context.Context, userID uint) (*models.Conversation, error) {
	bot, err := s.EnsureAssistantUser(ctx)
	if err != nil {
		return nil, err
	}
	if userID == bot.ID {
		return nil, models.NewBadRequestError("The assistant cannot talk to itself")
	}
	conv, created, err := s.repos.Conversations.FindOrCreateDirect(ctx, bot.ID, userID)
	if err != nil {
		return nil, err
	}
	if created {
		res, err := s.gatekeeper.Send(ctx, SendInput{
			SenderID:       bot.ID,
			ConversationID: conv.ID,
			Type:           string(models.MessageTypeText),
			Content:        assistantWelcome,
		})
		if err != nil {
			return nil, err
		}
		conv = res.Conversation
	}
	return conv, nil
}

// MessageDelivered answers messages that land in a conversation with the bot.
func (s *AssistantService) MessageDelivered(ctx context.Context, res *SendResult) {
	bot := s.Bot()
	if bot == nil || s.responder == nil || res.Conversation == nil {
		return
	}
	msg := res.Message
	if msg.SenderID == bot.ID || !res.Conversation.HasParticipant(bot.ID) {
		return
	}
	if !s.flags.Enabled(featureflags.AssistantReplies, msg.SenderID) {
		return
	}

	conv := res.Conversation
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), assistantReplyTimeout)
		defer cancel()
		s.reply(replyCtx, bot, conv, msg)
	}()
}

func (s *AssistantService) reply(ctx context.Context, bot *models.User, conv *models.Conversation, msg *models.Message) {
	text, err := s.responder.Reply(ctx, conv, msg)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "Assistant responder failed",
			"conversation_id", conv.ID,
			"message_id", msg.ID,
			"error", err,
		)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := s.gatekeeper.Send(ctx, SendInput{
		SenderID:       bot.ID,
		ConversationID: conv.ID,
		Type:           string(models.MessageTypeText),
		Content:        text,
	}); err != nil {
		middleware.Logger.WarnContext(ctx, "Assistant reply was not sent",
			"conversation_id", conv.ID,
			"error", err,
		)
	}
}

// Wait blocks until in-flight replies finish.
func (s *AssistantService) Wait() {
	s.wg.Wait()
}
