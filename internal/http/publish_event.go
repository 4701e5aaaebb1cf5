package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/voxsocial/notifygw/internal/bus"
	"github.com/voxsocial/notifygw/internal/model"
	"github.com/voxsocial/notifygw/internal/response"
)

// publishEventHandler accepts domain events from the CRUD layer and records
// them on the bus. 202 means durably recorded; delivery is asynchronous and
// its failures never surface here.
func publishEventHandler(pub *bus.Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		var ev model.Event
		if err := c.Bind(&ev); err != nil {
			return response.Fail(c, http.StatusBadRequest, response.CodeValidationInvalidValue, nil)
		}

		if kind, ok := model.ParseEventKind(ev.Kind.String()); ok {
			ev.Kind = kind
		}
		if errs := ev.Validate(); errs != nil {
			return response.Fail(c, http.StatusBadRequest, response.CodeValidationRequiredField, errs)
		}

		if err := pub.Publish(c.Request().Context(), ev); err != nil {
			log.Errorf("event publish failed: %v", err)
			return response.Internal(c)
		}

		return response.OK(c, http.StatusAccepted, "event accepted", map[string]any{
			"event_id": ev.ID,
			"kind":     ev.Kind.String(),
		})
	}
}
