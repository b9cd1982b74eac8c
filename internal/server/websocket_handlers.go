package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketChatHandler handles WebSocket connections for real-time chat.
// The route is guarded by middleware.WebSocketAuthRequired, which sets userID before
// the upgrade.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket Chat: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, notifications.ErrorFrame(models.CodeUnauthorized, "unauthorized"))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		client, err := s.chatHub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket Chat: Failed to register user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, notifications.ErrorFrame("CONNECTION_LIMIT", err.Error()))
			_ = conn.Close()
			return
		}
		log.Printf("WebSocket: User %d connected to chat (session %s)", userID, client.SessionID)

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			s.handleChatFrame(context.Background(), c, message)
		}

		// Start write pump in a goroutine
		go client.WritePump()

		// Read pump runs in the main handler goroutine (blocking)
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}

// handleChatFrame applies one client frame. Failures are answered with an error frame
// on the same session and never close it.
func (s *Server) handleChatFrame(ctx context.Context, c *notifications.Client, data []byte) {
	frame, err := notifications.ParseClientFrame(data)
	if err != nil {
		c.TrySend(notifications.ErrorFrame(models.CodeValidation, "invalid frame"))
		return
	}

	switch frame.Type {
	case notifications.EventTyping:
		if frame.ConversationID == 0 {
			c.TrySend(notifications.ErrorFrame(models.CodeValidation, "conversation_id is required"))
			return
		}
		allowed, lerr := middleware.TypingLimit.Allow(ctx, s.redis, fmt.Sprintf("user:%d", c.UserID))
		if lerr == nil && !allowed {
			return // Silently drop spammy typing indicators
		}
		err = s.conversations.Typing(ctx, frame.ConversationID, c.UserID, frame.IsTyping)

	case notifications.EventRead:
		if frame.MessageID == 0 {
			c.TrySend(notifications.ErrorFrame(models.CodeValidation, "message_id is required"))
			return
		}
		err = s.conversations.MarkRead(ctx, frame.MessageID, c.UserID)

	default:
		c.TrySend(notifications.ErrorFrame(models.CodeBadRequest, "unsupported frame type "+frame.Type))
		return
	}

	if err != nil {
		code := models.CodeInternal
		msg := "request failed"
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			code, msg = appErr.Code, appErr.Message
		} else {
			log.Printf("WebSocket Chat: %s frame from user %d failed: %v", frame.Type, c.UserID, err)
		}
		c.TrySend(notifications.ErrorFrame(code, msg))
	}
}
