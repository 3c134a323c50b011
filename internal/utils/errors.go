package utils

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// APIError is an error a handler can return to short-circuit into the fiber
// error handler with a stable machine-readable code
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new APIError
func NewAPIError(code, message string, status int) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

var (
	// ErrInternalServer hides the detail of unexpected backend failures
	ErrInternalServer = NewAPIError("INTERNAL_SERVER_ERROR", "An unexpected error occurred", fiber.StatusInternalServerError)
	// ErrBadRequest covers unparseable or structurally invalid request bodies
	ErrBadRequest = NewAPIError("BAD_REQUEST", "Invalid request", fiber.StatusBadRequest)
)

// ErrorHandler renders handler errors. APIError values keep their code and
// status, fiber errors keep their status, anything else is logged and hidden
// behind a plain 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Status).JSON(apiErr)
	}

	var e *fiber.Error
	if errors.As(err, &e) {
		return ErrorResponse(c, e.Message, e.Code)
	}

	slog.Error("Unhandled request error", "error", err)
	return ErrorResponse(c, "An unexpected error occurred")
}
