// Package auth extracts caller identity from request headers. Identity is
// handled upstream; the API trusts the X-User-ID header the gateway sets.
package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const UserIDHeader = "X-User-ID"

// RequireUser rejects requests without a caller identity and stores the
// user ID in request locals for handlers.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(UserIDHeader))
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + UserIDHeader + " header",
				"code":  "unauthenticated",
			})
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

// UserID reads the caller identity set by RequireUser.
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("userID").(string)
	return userID
}

// RequireAdmin gates administrative routes behind a static bearer token.
// When no token is configured the routes are disabled entirely.
func RequireAdmin(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin access is not configured",
				"code":  "forbidden",
			})
		}

		header := c.Get(fiber.HeaderAuthorization)
		provided := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if provided == "" || provided != token {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "invalid admin token",
				"code":  "forbidden",
			})
		}

		return c.Next()
	}
}
