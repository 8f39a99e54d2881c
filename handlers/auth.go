package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// UserHeader carries the viewer identity established by the auth proxy in
// front of this service.
const UserHeader = "X-User-ID"

const userLocal = "userID"

// RequireUser rejects requests without a viewer identity. Websocket clients
// cannot set headers, so the user_id query parameter is accepted for upgrades.
func RequireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserHeader))
	if userID == "" {
		userID = strings.TrimSpace(c.Query("user_id"))
	}
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}
	// Header and query values alias the request buffer; the identity outlives it.
	c.Locals(userLocal, utils.CopyString(userID))
	return c.Next()
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(userLocal).(string)
	return id
}

// roomParam returns a copy of the :roomID route parameter that is safe to keep
// after the handler returns.
func roomParam(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("roomID"))
}
