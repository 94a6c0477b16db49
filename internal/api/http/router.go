package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/desk-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/desk-kit/helpdesk-service/internal/auth"
	"github.com/desk-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	tickets.Post("", cfg.Tickets.Create)
	tickets.Get("", cfg.Tickets.List)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Patch("/:id", cfg.Tickets.Update)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/claim", auth.RequireRole(domain.RoleTechnician), cfg.Tickets.Claim)
	tickets.Delete("/:id", auth.RequireRole(domain.RoleAdmin), cfg.Tickets.Delete)

	users := app.Group("/users", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	users.Get("", auth.RequireRole(domain.RoleAdmin), cfg.Users.List)
	users.Get("/:id", cfg.Users.Get)
	users.Put("/:id/role", auth.RequireRole(domain.RoleAdmin), cfg.Users.ChangeRole)
	users.Delete("/:id", auth.RequireRole(domain.RoleAdmin), cfg.Users.Delete)
}
