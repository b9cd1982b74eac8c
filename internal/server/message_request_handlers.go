package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetMessageRequests handles GET /api/message-requests
func (s *Server) GetMessageRequests(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	reqs, err := s.gatekeeper.PendingRequestsForReceiver(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(reqs)
}

// GetMessageRequestCount handles GET /api/message-requests/count
func (s *Server) GetMessageRequestCount(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	count, err := s.gatekeeper.PendingCount(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

// GetMessageRequest handles GET /api/message-requests/:id
func (s *Server) GetMessageRequest(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	reqID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	view, err := s.gatekeeper.ViewRequest(c.UserContext(), reqID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// AcceptMessageRequest handles POST /api/message-requests/:id/accept
func (s *Server) AcceptMessageRequest(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	reqID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	conv, err := s.gatekeeper.Accept(c.UserContext(), reqID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conv})
}

// RejectMessageRequest handles POST /api/message-requests/:id/reject
func (s *Server) RejectMessageRequest(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	reqID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	req, err := s.gatekeeper.Reject(c.UserContext(), reqID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

// IgnoreMessageRequest handles POST /api/message-requests/:id/ignore
func (s *Server) IgnoreMessageRequest(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	reqID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	req, err := s.gatekeeper.Ignore(c.UserContext(), reqID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

// GetRequestStatus handles GET /api/message-requests/status/:userId
func (s *Server) GetRequestStatus(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	otherID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	status, err := s.gatekeeper.RequestStatus(c.UserContext(), userID, otherID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}
