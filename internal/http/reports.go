package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/voxsocial/notifygw/internal/repository"
	"github.com/voxsocial/notifygw/internal/response"
)

// listDeliveriesHandler exposes the ClickHouse delivery audit to operators
// (service-key protected). This is the surfaced signal for exhausted
// retries; end users never see these rows.
func listDeliveriesHandler(audit repository.AuditRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		recipient := strings.TrimSpace(c.QueryParam("recipient_id"))
		state := strings.TrimSpace(c.QueryParam("state"))

		rows, err := audit.List(c.Request().Context(), recipient, state, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse audit list failed: %v", err)
			return response.Internal(c)
		}

		return response.OK(c, http.StatusOK, "delivery audit", map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
