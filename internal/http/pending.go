package http

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/voxsocial/notifygw/internal/http/middleware"
	"github.com/voxsocial/notifygw/internal/repository"
	"github.com/voxsocial/notifygw/internal/response"
)

// listPendingHandler is the catch-up fetch: all PENDING notifications for
// the caller in event creation order. The gateway replays the same query on
// reconnect; this endpoint lets clients poll between connections.
func listPendingHandler(store repository.NotificationsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		identityID, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return response.Unauthorized(c, response.CodeAuthMissingToken)
		}

		limit := 200
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		rows, err := store.ListPending(c.Request().Context(), identityID, limit)
		if err != nil {
			c.Logger().Errorf("pending fetch failed: %v", err)
			return response.Internal(c)
		}

		return response.OK(c, http.StatusOK, "pending notifications", map[string]any{
			"count":   len(rows),
			"results": rows,
		})
	}
}
