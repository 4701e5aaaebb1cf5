package http

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/voxsocial/notifygw/internal/auth"
	"github.com/voxsocial/notifygw/internal/bus"
	"github.com/voxsocial/notifygw/internal/config"
	"github.com/voxsocial/notifygw/internal/gateway"
	"github.com/voxsocial/notifygw/internal/http/middleware"
	"github.com/voxsocial/notifygw/internal/repository"
)

type Server struct{ e *echo.Echo }

// Deps carries the wired components the server routes to. The gateway is
// optional; a headless API node serves everything except /ws.
type Deps struct {
	Validator *auth.Validator
	Publisher *bus.Publisher
	Store     repository.NotificationsRepository
	Audit     repository.AuditRepository
	Gateway   *gateway.Gateway
	Redis     *redis.Client
}

func NewServer(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if deps.Gateway != nil {
		e.GET("/ws", wsHandler(deps.Gateway))
	}

	serviceMW := middleware.ServiceKeyMiddleware(cfg.Auth.ServiceKey)
	bearerMW := middleware.BearerMiddleware(deps.Validator)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ident:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1")
	v1.POST("/events", publishEventHandler(deps.Publisher), serviceMW, rlMW)
	v1.GET("/notifications/pending", listPendingHandler(deps.Store), bearerMW, rlMW)
	v1.GET("/reports/deliveries", listDeliveriesHandler(deps.Audit), serviceMW)

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
