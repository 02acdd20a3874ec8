package http

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-service/internal/api/http/handlers"
	"github.com/spec-kit/verification-service/internal/auth"
	"github.com/spec-kit/verification-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Submissions    *handlers.SubmissionsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	v1 := app.Group("/v1")

	authGroup := v1.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	submissions := v1.Group("/submissions", cfg.AuthMiddleware.Handle)
	submissions.Post("/urls", cfg.Submissions.Create)
	submissions.Put("/urls", cfg.Submissions.Process)
	submissions.Get("/status", cfg.Submissions.Status)
	submissions.Get("/session/:sessionId", cfg.Submissions.GetBySession)
	submissions.Get("/:id", cfg.Submissions.Get)
}
