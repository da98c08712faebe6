package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/service"
)

// Setup stores app credentials and returns the broker login URL
// POST /api/v1/broker/oauth/setup
func (h *BrokerHandler) Setup(c *fiber.Ctx) error {
	var req service.SetupRequest
	if ok, err := bindAndValidate(c, h.validator, &req); !ok {
		return err
	}

	resp, err := h.oauth.Setup(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, domain.ErrMissingIdentifier) {
			field := "user_id"
			if req.APIKey == "" {
				field = "api_key"
			}
			return validationError(c, field, "user_id is required while a session is active")
		}
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// Callback completes the broker login
// GET /api/v1/broker/oauth/callback
func (h *BrokerHandler) Callback(c *fiber.Ctx) error {
	session, err := h.oauth.Callback(c.UserContext(), service.CallbackRequest{
		RequestToken: c.Query("request_token"),
		State:        c.Query("state"),
		Status:       c.Query("status"),
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"connected": true,
		"session":   publicSession(session),
	})
}
