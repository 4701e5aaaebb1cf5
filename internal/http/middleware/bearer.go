package middleware

import (
	"errors"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/voxsocial/notifygw/internal/auth"
	"github.com/voxsocial/notifygw/internal/response"
)

const ctxIdentityID = "identity_id"

// IdentityFromCtx extracts the authenticated identity id set by BearerMiddleware.
func IdentityFromCtx(c echo.Context) (string, bool) {
	v := c.Get(ctxIdentityID)
	id, ok := v.(string)
	return id, ok && id != ""
}

// BearerMiddleware authenticates end-user requests with a Bearer token,
// validated by the same Token Validator the websocket admission uses.
func BearerMiddleware(validator *auth.Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := strings.TrimSpace(c.Request().Header.Get("Authorization"))
			if header == "" {
				return response.Unauthorized(c, response.CodeAuthMissingToken)
			}
			token := strings.TrimPrefix(header, "Bearer ")
			ident, err := validator.Admit(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					return response.Unauthorized(c, response.CodeAuthExpiredToken)
				}
				if errors.Is(err, auth.ErrUnauthorized) {
					return response.Unauthorized(c, response.CodeAuthInvalidToken)
				}
				return response.Internal(c)
			}
			c.Set(ctxIdentityID, ident.ID)
			return next(c)
		}
	}
}
