package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifygw_notifications_total",
			Help: "Notification lifecycle counter by stage and event kind",
		},
		[]string{"stage", "kind"}, // created|delivered|acked|expired|suppressed , POST|COMMENT|LIKE|FOLLOW
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifygw_delivery_attempts_total",
			Help: "Push attempts by result",
		},
		[]string{"result"}, // pushed|offline|failed
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifygw_ws_connections",
			Help: "Currently open websocket connections",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		NotificationsTotal,
		DeliveryAttemptsTotal,
		WSConnections,
	)
}
