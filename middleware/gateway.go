// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"rewards-ledger-system/logging"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// GatewayAuthMiddleware validates the Bearer token presented by the gateway.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	if expectedToken == "" {
		logging.Logger.Fatal("❌ gateway token is not set, service cannot authenticate the gateway")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			logging.Logger.Warn("🚫 [GATEWAY_AUTH] missing Authorization header", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
				"code":  "UNAUTHORIZED",
			})
		}

		// Accept "Bearer <token>" or the raw token.
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			logging.Logger.Warn("❌ [GATEWAY_AUTH] invalid token", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
				"code":  "UNAUTHORIZED",
			})
		}

		return c.Next()
	}
}
