package middleware

import (
	"github.com/labstack/echo/v4"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
)

// RequireRole aborts with FORBIDDEN unless the role stored by JWTAuth is one
// of roles.  It must run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return apperrors.New(apperrors.CodeForbidden, "role not permitted for this route")
			}
			return next(c)
		}
	}
}
