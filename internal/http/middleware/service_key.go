package middleware

import (
	"crypto/subtle"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/voxsocial/notifygw/internal/response"
)

// ServiceKeyMiddleware authenticates the internal CRUD producer using the
// X-Service-Key header. The producer is a trusted collaborator, not a
// tenant; a single static key is sufficient.
func ServiceKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := strings.TrimSpace(c.Request().Header.Get("X-Service-Key"))
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return response.Unauthorized(c, response.CodeAuthInvalidServiceKey)
			}
			return next(c)
		}
	}
}
