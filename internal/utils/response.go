package utils

import (
	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends an error JSON response with a failure flag and message.
// If an explicit HTTP status code is provided it is used; otherwise 500
// Internal Server Error is sent.
func ErrorResponse(c *fiber.Ctx, message string, code ...int) error {
	statusCode := fiber.StatusInternalServerError
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// AuthRequiredResponse sends the uniform re-authenticate payload. The three
// session failure kinds deliberately share this body; they are distinguished
// only in logs.
func AuthRequiredResponse(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "authentication required",
	})
}

// StepUpRequiredResponse sends the structured step-up denial payload
func StepUpRequiredResponse(c *fiber.Ctx, scope string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"code":  "STEP_UP_REQUIRED",
		"scope": scope,
	})
}
