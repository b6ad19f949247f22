package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ClinicChatBack/internal/services"
)

var validate = validator.New()

var errMissingIdentity = errors.New("missing identity")

// actorFromLocals reads the identity that AuthRequired stored on the context.
func actorFromLocals(c *fiber.Ctx) (int64, string, error) {
	userIDStr, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, "", errMissingIdentity
	}
	role, ok := c.Locals("role").(string)
	if !ok || role == "" {
		return 0, "", errMissingIdentity
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", errMissingIdentity
	}
	return userID, role, nil
}

func parseConversationID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  services.CodeValidation,
	})
}

func unauthenticated(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Invalid or expired token",
		"code":  services.CodeUnauthenticated,
	})
}
