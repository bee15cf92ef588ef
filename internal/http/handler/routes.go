package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idverify/internal/service"
)

// Guards protect the route groups. A nil guard is skipped.
type Guards struct {
	User   fiber.Handler // bearer JWT for end users
	Events fiber.Handler // shared token for storage notifications
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.VerificationService, guards Guards) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	users := app.Group("/verifications", handlers(guards.User)...)
	users.Post("/", SubmitVerification(svc))
	users.Get("/status", GetVerificationStatus(svc))
	users.Delete("/", DeleteVerification(svc))

	events := app.Group("/events", handlers(guards.Events)...)
	events.Post("/object-created", ObjectCreated(svc))
}

func handlers(h fiber.Handler) []fiber.Handler {
	if h == nil {
		return nil
	}
	return []fiber.Handler{h}
}

// HealthCheck reports readiness by pinging the database.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200 while the process serves requests.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// Metrics exposes the collectors gathered by g.
func Metrics(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
