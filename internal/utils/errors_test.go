package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFailingHandler(t *testing.T, handler fiber.Handler) (int, map[string]any) {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	return resp.StatusCode, body
}

func TestErrorHandler(t *testing.T) {
	t.Run("api error keeps code and status", func(t *testing.T) {
		status, body := runFailingHandler(t, func(c *fiber.Ctx) error {
			return ErrBadRequest
		})

		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "BAD_REQUEST", body["code"])
		assert.Equal(t, "Invalid request", body["message"])
	})

	t.Run("wrapped api error is unwrapped", func(t *testing.T) {
		status, body := runFailingHandler(t, func(c *fiber.Ctx) error {
			return fmt.Errorf("request failed: %w", ErrInternalServer)
		})

		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	})

	t.Run("fiber error keeps its status", func(t *testing.T) {
		status, body := runFailingHandler(t, func(c *fiber.Ctx) error {
			return fiber.ErrNotFound
		})

		assert.Equal(t, fiber.StatusNotFound, status)
		assert.Equal(t, false, body["success"])
	})

	t.Run("plain error is hidden behind a 500", func(t *testing.T) {
		status, body := runFailingHandler(t, func(c *fiber.Ctx) error {
			return errors.New("pq: connection refused")
		})

		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.Equal(t, "An unexpected error occurred", body["error"])
		assert.NotContains(t, body["error"], "pq:")
	})
}
