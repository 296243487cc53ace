// Package router mounts the HTTP API on an echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/handler"
	"github.com/iliyamo/parking-reservation/internal/logger"
	"github.com/iliyamo/parking-reservation/internal/middleware"
)

// Deps is everything the routes need.  RateLimiter and Gatherer may be nil.
type Deps struct {
	Logger       *logger.Logger
	JWTSecret    string
	RateLimit    config.RateLimitConfig
	RateLimiter  redis.Scripter
	Gatherer     prometheus.Gatherer
	DB           handler.Pinger
	Auth         *handler.AuthHandler
	Lots         *handler.LotHandler
	Reservations *handler.ReservationHandler
	Jobs         *handler.JobHandler
	Admin        *handler.AdminHandler
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(d.Logger)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Logger))

	RegisterPublic(e, d)
	RegisterUser(e, d)
	RegisterAdmin(e, d)
	return e
}

// RegisterPublic mounts health, metrics and the unauthenticated auth routes.
func RegisterPublic(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	g := e.Group("/v1/auth")
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
}
