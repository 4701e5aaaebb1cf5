package http

import (
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/voxsocial/notifygw/internal/auth"
	"github.com/voxsocial/notifygw/internal/gateway"
	"github.com/voxsocial/notifygw/internal/response"
)

// wsHandler admits websocket clients. Refusals happen before the upgrade
// and render the standard envelope; after a successful upgrade the gateway
// owns the hijacked connection and nothing more may be written here.
func wsHandler(gw *gateway.Gateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.TrimSpace(c.QueryParam("token")) == "" {
			return response.Unauthorized(c, response.CodeAuthMissingToken)
		}

		err := gw.HandleUpgrade(c.Response(), c.Request())
		switch {
		case err == nil:
			return nil
		case errors.Is(err, auth.ErrTokenExpired):
			return response.Unauthorized(c, response.CodeAuthExpiredToken)
		case errors.Is(err, auth.ErrUnauthorized):
			return response.Unauthorized(c, response.CodeAuthInvalidToken)
		case errors.Is(err, gateway.ErrTooManyConnections):
			return response.Fail(c, http.StatusTooManyRequests, response.CodeRateLimited, nil)
		default:
			// upgrade failures write their own status; anything else (auth
			// backend down) still owns a clean response
			if c.Response().Committed {
				return nil
			}
			return response.Internal(c)
		}
	}
}
