package handler

import (
	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(
	app *fiber.App,
	brokerHandler *BrokerHandler,
	verificationHandler *VerificationHandler,
	healthHandler *HealthHandler,
	metricsHandler fiber.Handler,
	operatorAuth fiber.Handler,
) {
	// Health checks (public)
	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)
	app.Get("/metrics", metricsHandler)

	// API v1
	api := app.Group("/api/v1")

	// Broker session routes. The callback is a browser redirect from Kite and
	// is guarded by the oauth state instead.
	broker := api.Group("/broker")
	broker.Post("/oauth/setup", brokerHandler.Setup)
	broker.Get("/oauth/callback", brokerHandler.Callback)
	broker.Get("/session", brokerHandler.GetSession)
	broker.Post("/token/update", brokerHandler.UpdateToken)

	// Calls out to the broker or destroys the session (operator only)
	broker.Post("/session/check", operatorAuth, brokerHandler.CheckSession)
	broker.Delete("/session", operatorAuth, brokerHandler.Disconnect)

	// Verification routes (operator only)
	verify := api.Group("/verification", operatorAuth)
	verify.Post("/run", verificationHandler.Run)
	verify.Get("/reports", verificationHandler.ListReports)
	verify.Get("/reports/:id", verificationHandler.GetReport)
	verify.Get("/issues", verificationHandler.ListIssues)
	verify.Patch("/issues/:id", verificationHandler.UpdateIssue)
}
