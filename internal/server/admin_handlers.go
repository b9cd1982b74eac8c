package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags returns configured feature flags and evaluated state for current user.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(uint)

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}

// MigrateChatToConversations handles POST /api/admin/migration/chat/to-conversations
func (s *Server) MigrateChatToConversations(c *fiber.Ctx) error {
	report, err := s.migration.BackfillConversations(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			SendString(fmt.Sprintf("Chat migration failed after %s: %v", report, err))
	}
	return c.SendString("Chat migration completed: " + report.String())
}

// CleanupChatMigration handles POST /api/admin/migration/chat/cleanup
func (s *Server) CleanupChatMigration(c *fiber.Ctx) error {
	report, err := s.migration.CleanupDeprecatedFields(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			SendString(fmt.Sprintf("Chat migration cleanup failed: %v", err))
	}
	return c.SendString("Chat migration cleanup completed: " + report.String())
}
