package middleware

import (
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
)

// Context keys set by JWTAuth.
const (
	KeyUserID = "user_id"
	KeyRole   = "role"
)

// JWTAuth validates a Bearer access token and stores the subject and role
// claims in the echo context.  The secret must match the one used by
// utils.NewAccessToken.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				return apperrors.New(apperrors.CodeUnauthorized, "missing bearer token")
			}

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return apperrors.New(apperrors.CodeUnauthorized, "invalid token")
			}

			uid, ok := subject(claims["sub"])
			if !ok {
				return apperrors.New(apperrors.CodeUnauthorized, "invalid claims")
			}
			role, _ := claims["role"].(string)
			c.Set(KeyUserID, uid)
			c.Set(KeyRole, role)
			return next(c)
		}
	}
}

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	uid, ok := c.Get(KeyUserID).(uint64)
	return uid, ok && uid > 0
}

// Role returns the authenticated role stored by JWTAuth.
func Role(c echo.Context) string {
	role, _ := c.Get(KeyRole).(string)
	return role
}

// subject accepts the numeric forms a JSON decoder may produce for "sub".
func subject(v any) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return 0, false
		}
		return uint64(t), true
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}
