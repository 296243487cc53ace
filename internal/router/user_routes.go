package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// RegisterUser mounts routes under /v1 that require a valid token.  Browsing
// and job status accept any role; parking and exports are USER only and go
// through the rate limiter.
func RegisterUser(e *echo.Echo, d Deps) {
	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret))
	anyRole := middleware.RequireRole(model.RoleUser, model.RoleAdmin)
	userOnly := middleware.RequireRole(model.RoleUser)
	limited := middleware.RateLimit(d.RateLimit, d.RateLimiter, d.Logger)

	g.GET("/me", d.Auth.Me, anyRole)
	g.GET("/lots", d.Lots.List, anyRole)
	g.GET("/lots/:id", d.Lots.Get, anyRole)
	g.GET("/lots/:id/spots", d.Lots.Spots, anyRole)
	g.GET("/jobs/:id", d.Jobs.Status, anyRole)

	g.POST("/reservations", d.Reservations.Reserve, userOnly, limited)
	g.POST("/reservations/:id/release", d.Reservations.Release, userOnly, limited)
	g.GET("/reservations", d.Reservations.List, userOnly)
	g.GET("/reservations/active", d.Reservations.Active, userOnly)

	g.POST("/exports", d.Jobs.RequestExport, userOnly, limited)
	g.GET("/exports/me", d.Jobs.DownloadExport, userOnly)
}
