package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// RegisterAdmin mounts lot management, user lookup and reporting under
// /v1/admin.  Every
// route requires the ADMIN role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.POST("/lots", d.Admin.CreateLot)
	g.PUT("/lots/:id", d.Admin.UpdateLot)
	g.PUT("/lots/:id/capacity", d.Admin.SetCapacity)
	g.DELETE("/lots/:id", d.Admin.DeleteLot)
	g.POST("/reports", d.Admin.RequestReport)
	g.POST("/reports/broadcast", d.Admin.BroadcastReports)
	g.GET("/users", d.Admin.ListUsers)
	g.GET("/search", d.Admin.Search)
	g.GET("/summary", d.Admin.Summary)
}
