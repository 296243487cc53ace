package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/logger"
)

// RequestLogger attaches the request id to the request context logger and
// writes one line per request.  It expects echo's RequestID middleware to
// run first.
func RequestLogger(logg *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logg.WithRequestID(req.Context(), rid)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				// Let the HTTP error handler write the status before logging.
				c.Error(err)
			}

			fields := map[string]any{
				"method":      req.Method,
				"path":        c.Path(),
				"status":      c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if uid, ok := UserID(c); ok {
				fields["user_id"] = uid
			}
			logg.Info(logg.WithFields(ctx, fields), "request.completed")
			return nil
		}
	}
}
