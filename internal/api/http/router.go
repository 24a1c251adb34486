package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/zacode/consultation-service/internal/api/http/handlers"
	"github.com/zacode/consultation-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Consultations  *handlers.ConsultationsHandler
	Metrics        nethttp.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	consultations := app.Group("/consultations", cfg.AuthMiddleware.Handle)
	consultations.Post("", auth.RequireUser(), cfg.Consultations.Create)
	consultations.Get("/:id", auth.RequireAnyRole(), cfg.Consultations.Get)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Post("/consultations/:id/response", cfg.Consultations.Respond)
}
