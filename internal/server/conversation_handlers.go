package server

import (
	"encoding/json"
	"strconv"

	"parley/internal/models"
	"parley/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetConversations handles GET /api/conversations
func (s *Server) GetConversations(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	convs, err := s.conversations.List(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(convs)
}

// GetConversation handles GET /api/conversations/:id
func (s *Server) GetConversation(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	conv, err := s.conversations.Get(c.UserContext(), convID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// GetMessages handles GET /api/conversations/:id/messages?cursor=&limit=
func (s *Server) GetMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	msgs, next, err := s.conversations.History(c.UserContext(), convID, userID, c.Query("cursor"), historyLimit(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"messages":    msgs,
		"next_cursor": next,
	})
}

// DeleteConversation handles DELETE /api/conversations/:id?userId=
// The conversation is hidden for that user only; the other participants keep it.
func (s *Server) DeleteConversation(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var target uint
	if raw := c.Query("userId"); raw != "" {
		v, perr := strconv.ParseUint(raw, 10, 32)
		if perr != nil || v == 0 {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid user ID"))
		}
		target = uint(v)
	}

	if err := s.conversations.SoftDelete(c.UserContext(), convID, userID, target); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Conversation deleted"})
}

// OpenDirectConversation handles POST /api/conversations/direct/:userId
func (s *Server) OpenDirectConversation(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	otherID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	conv, created, err := s.conversations.OpenDirect(c.UserContext(), userID, otherID)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(conv)
}

// StartAssistantConversation handles POST /api/conversations/assistant
func (s *Server) StartAssistantConversation(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	if s.assistant == nil {
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("Assistant", s.config.AssistantUsername))
	}

	conv, err := s.assistant.StartAssistantConversation(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// CreateGroup handles POST /api/conversations/groups
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req struct {
		Name      string `json:"name"`
		Avatar    string `json:"avatar"`
		MemberIDs []uint `json:"member_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	conv, err := s.conversations.CreateGroup(c.UserContext(), service.CreateGroupInput{
		CreatorID: userID,
		Name:      req.Name,
		Avatar:    req.Avatar,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// AddMembers handles POST /api/conversations/:id/members
func (s *Server) AddMembers(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		UserIDs []uint `json:"user_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	conv, err := s.conversations.AddMembers(c.UserContext(), convID, userID, req.UserIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// RemoveMember handles DELETE /api/conversations/:id/members/:userId
func (s *Server) RemoveMember(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	memberID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.conversations.RemoveMember(c.UserContext(), convID, userID, memberID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateGroup handles PATCH /api/conversations/:id
func (s *Server) UpdateGroup(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	conv, err := s.conversations.UpdateGroupInfo(c.UserContext(), convID, userID, req.Name, req.Avatar)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// UpdateTheme handles PUT /api/conversations/:id/theme
func (s *Server) UpdateTheme(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	theme := append(json.RawMessage(nil), c.Body()...)
	if err := s.conversations.UpdateTheme(c.UserContext(), convID, userID, theme); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
