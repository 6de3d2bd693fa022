// handlers/errors.go
package handlers

import (
	"errors"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusByCode maps service error codes onto HTTP statuses.
var statusByCode = map[string]int{
	"COOLDOWN_ACTIVE":        fiber.StatusConflict,
	"ALREADY_COMPLETED":      fiber.StatusConflict,
	"INVALID_TRANSITION":     fiber.StatusConflict,
	"TASK_NOT_FOUND":         fiber.StatusNotFound,
	"ACCOUNT_NOT_FOUND":      fiber.StatusNotFound,
	"WITHDRAWAL_NOT_FOUND":   fiber.StatusNotFound,
	"TASK_INACTIVE":          fiber.StatusGone,
	"BELOW_MINIMUM":          fiber.StatusUnprocessableEntity,
	"INSUFFICIENT_BALANCE":   fiber.StatusUnprocessableEntity,
	"MISSING_WALLET_ADDRESS": fiber.StatusUnprocessableEntity,
	"INVALID_AMOUNT":         fiber.StatusUnprocessableEntity,
	"UNKNOWN_METHOD":         fiber.StatusUnprocessableEntity,
	"INVALID_DECISION":       fiber.StatusUnprocessableEntity,
	"INVALID_IDENTITY":       fiber.StatusBadRequest,
	"INVALID_INPUT":          fiber.StatusBadRequest,
	"ACCOUNT_BANNED":         fiber.StatusForbidden,
	"STORAGE_UNAVAILABLE":    fiber.StatusServiceUnavailable,
}

// writeError renders err as {"error", "code"} with the mapped status.
func writeError(c *fiber.Ctx, err error) error {
	code := services.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{"error": err.Error(), "code": code}
	var cooldown *services.CooldownError
	if errors.As(err, &cooldown) {
		body["next_claim_at"] = cooldown.NextAt
	}
	if status >= fiber.StatusInternalServerError {
		logging.Logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		body["error"] = "internal error"
		if code == "STORAGE_UNAVAILABLE" {
			body["error"] = services.ErrStorageUnavailable.Error()
		}
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "INVALID_INPUT"})
}
