// middleware/auth.go
package middleware

import (
	"strings"

	"rewards-ledger-system/logging"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Locals keys set by UserContextMiddleware.
const (
	LocalUserID    = "user_id"
	LocalUserRoles = "user_roles"
)

// UserContextMiddleware extracts the platform identity and roles the gateway
// forwards in X-User-ID and X-User-Roles. Requests without an identity are
// rejected.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			logging.Logger.Warn("❌ [USER_CTX] X-User-ID required but missing", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
				"code":  "UNAUTHORIZED",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUserRoles, roles)

		logging.Logger.Debug("👤 [USER_CTX] identity attached",
			zap.String("user_id", userID), zap.Strings("roles", roles), zap.String("path", c.Path()))
		return c.Next()
	}
}

// RequireRole lets the request through only if the gateway granted role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			logging.Logger.Warn("🚫 [USER_CTX] role required",
				zap.String("role", role), zap.Any("user_id", c.Locals(LocalUserID)), zap.String("path", c.Path()))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
				"code":  "FORBIDDEN",
			})
		}
		return c.Next()
	}
}

// HasRole reports whether the caller's roles include role.
func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(LocalUserRoles).([]string)
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// UserID returns the external identity attached by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
