package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
	"github.com/andressep95/broker-auth-service/pkg/broker"
	"github.com/andressep95/broker-auth-service/pkg/validator"
)

// validationError writes the structured 400 every request-shape failure uses
func validationError(c *fiber.Ctx, field, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "validation_error",
		"field":   field,
		"message": message,
	})
}

// bindAndValidate parses the JSON body into req and runs the struct rules.
// It returns false once a response has been written.
func bindAndValidate(c *fiber.Ctx, v *validator.Validator, req any) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, validationError(c, "body", "invalid request body")
	}
	if err := v.Validate(req); err != nil {
		var errs validator.Errors
		if errors.As(err, &errs) {
			first := errs.First()
			return false, validationError(c, first.Field, first.Message)
		}
		return false, validationError(c, "body", err.Error())
	}
	return true, nil
}

// writeError maps service errors onto HTTP responses
func writeError(c *fiber.Ctx, err error) error {
	var verr *domain.ValidationError
	var apiErr *broker.APIError

	switch {
	case errors.As(err, &verr):
		return validationError(c, verr.Field, verr.Message)
	case errors.Is(err, domain.ErrCSRFMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "csrf_mismatch",
			"message": "oauth state did not match, start the setup again",
		})
	case errors.Is(err, domain.ErrInvalidPlan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_plan",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrNoSession):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no_session",
		})
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
		})
	case errors.Is(err, domain.ErrUserMismatch):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "user_mismatch",
			"message": err.Error(),
		})
	case errors.As(err, &apiErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":      "broker_error",
			"error_type": apiErr.ErrorType,
			"message":    apiErr.Message,
		})
	}
	return err
}

// ErrorHandler answers anything the handlers did not map themselves
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	logger = logger.Named("http")

	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
			})
		}

		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal_error",
		})
	}
}
