package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/pkg/hash"
)

// OperatorAuth checks the Bearer token against the configured argon2id hash.
// With no hash configured every request is refused.
func OperatorAuth(tokenHash string, logger *zap.Logger) fiber.Handler {
	logger = logger.Named("operator_auth")

	return func(c *fiber.Ctx) error {
		if tokenHash == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "operator access is not configured",
			})
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization header",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		ok, err := hash.VerifyToken(parts[1], tokenHash)
		if err != nil {
			logger.Error("operator token hash is unusable", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to verify token",
			})
		}
		if !ok {
			logger.Warn("rejected operator token", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals("operator", true)
		return c.Next()
	}
}
