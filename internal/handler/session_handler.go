package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/service"
	"github.com/andressep95/broker-auth-service/pkg/validator"
)

type BrokerHandler struct {
	oauth     *service.OAuthService
	validator *validator.Validator
	logger    *zap.Logger
}

func NewBrokerHandler(oauth *service.OAuthService, v *validator.Validator, logger *zap.Logger) *BrokerHandler {
	return &BrokerHandler{
		oauth:     oauth,
		validator: v,
		logger:    logger.Named("broker_handler"),
	}
}

// GetSession returns the active session without secrets
// GET /api/v1/broker/session
func (h *BrokerHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.oauth.Session(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	if session == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"connected": false,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"connected": session.SessionStatus == domain.SessionStatusConnected,
		"session":   publicSession(session),
	})
}

// CheckSession verifies the stored token against the broker
// POST /api/v1/broker/session/check
func (h *BrokerHandler) CheckSession(c *fiber.Ctx) error {
	session, err := h.oauth.CheckStatus(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"connected":   session.SessionStatus == domain.SessionStatusConnected,
		"tokenStatus": session.TokenStatus,
		"session":     publicSession(session),
	})
}

// Disconnect removes the session
// DELETE /api/v1/broker/session
func (h *BrokerHandler) Disconnect(c *fiber.Ctx) error {
	if err := h.oauth.Disconnect(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateToken accepts a token obtained by the login automation
// POST /api/v1/broker/token/update
func (h *BrokerHandler) UpdateToken(c *fiber.Ctx) error {
	var req service.TokenUpdateRequest
	if ok, err := bindAndValidate(c, h.validator, &req); !ok {
		return err
	}

	session, err := h.oauth.UpdateToken(c.UserContext(), req)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"updated": true,
		"session": publicSession(session),
	})
}

// publicSession strips credentials from the consumption view
func publicSession(s *domain.BrokerSession) *domain.BrokerSession {
	out := *s
	out.AccessToken = ""
	out.APISecret = ""
	out.CsrfState = ""
	return &out
}
