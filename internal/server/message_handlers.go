package server

import (
	"parley/internal/models"
	"parley/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest is the body of POST /api/messages. Exactly one of ConversationID
// and ReceiverID addresses the message.
type SendMessageRequest struct {
	ConversationID   uint   `json:"conversation_id"`
	ReceiverID       uint   `json:"receiver_id"`
	Type             string `json:"type"`
	Content          string `json:"content"`
	MediaURL         string `json:"media_url"`
	ReplyToMessageID *uint  `json:"reply_to_message_id"`
}

// SendMessage handles POST /api/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Type == "" {
		req.Type = string(models.MessageTypeText)
	}

	res, err := s.gatekeeper.Send(c.UserContext(), service.SendInput{
		SenderID:         userID,
		ConversationID:   req.ConversationID,
		ReceiverID:       req.ReceiverID,
		Type:             req.Type,
		Content:          req.Content,
		MediaURL:         req.MediaURL,
		ReplyToMessageID: req.ReplyToMessageID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// MarkMessageRead handles POST /api/messages/:id/read
func (s *Server) MarkMessageRead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	msgID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.conversations.MarkRead(c.UserContext(), msgID, userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
