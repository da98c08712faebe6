package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RecoveryMiddleware turns a panic into a 500 and logs the stack
func RecoveryMiddleware(logger *zap.Logger) fiber.Handler {
	logger = logger.Named("recovery")

	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic serving request",
					zap.String("panic", fmt.Sprint(r)),
					zap.String("path", c.Path()),
					zap.ByteString("stack", debug.Stack()))

				err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "internal server error",
				})
			}
		}()

		return c.Next()
	}
}
