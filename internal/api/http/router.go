package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/support-inbox/internal/api/http/handlers"
	"github.com/spec-kit/support-inbox/internal/auth"
	"github.com/spec-kit/support-inbox/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Staff          *handlers.StaffHandler
	Automation     *handlers.AutomationHandler
	Settings       *handlers.SettingsHandler
	AuthMiddleware *auth.AuthMiddleware
	// MetricsEnabled mounts the default prometheus registry at /metrics.
	MetricsEnabled bool
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/staff/login", cfg.Staff.Login)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireStaffRole(domain.StaffRoleAgent, domain.StaffRoleAdmin))
	adminOnly := auth.RequireStaffRole(domain.StaffRoleAdmin)

	tickets := api.Group("/tickets")
	tickets.Get("/", cfg.Tickets.List)
	tickets.Post("/bulk/status", cfg.Tickets.BulkStatus)
	tickets.Post("/bulk/close", cfg.Tickets.BulkClose)
	tickets.Post("/bulk/assign", cfg.Tickets.BulkAssign)
	tickets.Post("/bulk/priority", cfg.Tickets.BulkPriority)
	tickets.Post("/bulk/tag", cfg.Tickets.BulkTag)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Get("/:id/timeline", cfg.Tickets.Timeline)
	tickets.Patch("/:id/status", cfg.Tickets.ChangeStatus)
	tickets.Patch("/:id/assign", cfg.Tickets.Assign)
	tickets.Patch("/:id/priority", cfg.Tickets.ChangePriority)
	tickets.Post("/:id/notes", cfg.Tickets.AddNote)
	tickets.Post("/:id/tags", cfg.Tickets.AddTag)
	tickets.Delete("/:id/tags/:tag", cfg.Tickets.RemoveTag)
	tickets.Post("/:id/merge", cfg.Tickets.Merge)
	tickets.Post("/:id/reply", cfg.Tickets.Reply)
	tickets.Post("/:id/read", cfg.Tickets.MarkRead)
	tickets.Post("/:id/link-order", cfg.Tickets.LinkOrder)
	tickets.Post("/:id/draft", cfg.Tickets.Draft)

	api.Get("/activities/recent", cfg.Tickets.RecentActivity)

	staff := api.Group("/staff")
	staff.Get("/me", cfg.Staff.Me)
	staff.Post("/me/password", cfg.Staff.ChangePassword)
	staff.Get("/", cfg.Staff.ListStaff)
	staff.Get("/:id", cfg.Staff.GetStaff)
	staff.Post("/", adminOnly, cfg.Staff.CreateStaff)
	staff.Post("/:id/deactivate", adminOnly, cfg.Staff.Deactivate)
	staff.Post("/:id/reactivate", adminOnly, cfg.Staff.Reactivate)

	api.Post("/automation/:job/run", adminOnly, cfg.Automation.Run)
	api.Post("/customers/retag", adminOnly, cfg.Automation.Retag)

	settings := api.Group("/settings")
	settings.Get("/automation", cfg.Settings.GetAutomation)
	settings.Put("/automation", adminOnly, cfg.Settings.UpdateAutomation)
	settings.Get("/business-hours", cfg.Settings.GetBusinessHours)
	settings.Put("/business-hours", adminOnly, cfg.Settings.UpdateBusinessHours)
}
