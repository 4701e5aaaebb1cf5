package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxsocial/notifygw/internal/auth"
	"github.com/voxsocial/notifygw/internal/config"
	"github.com/voxsocial/notifygw/internal/logger"
	"github.com/voxsocial/notifygw/internal/metrics"
	"github.com/voxsocial/notifygw/internal/model"
	"github.com/voxsocial/notifygw/internal/presence"
	"github.com/voxsocial/notifygw/internal/push"
	"github.com/voxsocial/notifygw/internal/repository"
)

var ErrTooManyConnections = errors.New("connection limit reached for identity")

// Gateway owns every live Connection: it admits clients, replays missed
// notifications on reconnect, pushes live deliver commands, and feeds acks
// back into the outbox store.
type Gateway struct {
	cfg       config.GatewayConfig
	validator *auth.Validator
	presence  *presence.Registry
	store     repository.NotificationsRepository
	broker    *push.Broker
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn // conn id -> conn
}

func New(
	cfg config.GatewayConfig,
	validator *auth.Validator,
	reg *presence.Registry,
	store repository.NotificationsRepository,
	broker *push.Broker,
) *Gateway {
	return &Gateway{
		cfg:       cfg,
		validator: validator,
		presence:  reg,
		store:     store,
		broker:    broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browser clients carry auth in the token param, not cookies
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// Run subscribes to the push bridge until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	err := g.broker.Subscribe(ctx, g.deliverLocal)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleUpgrade admits a websocket client: validate the credential claim,
// enforce the per-identity connection cap, upgrade, register, replay
// pending notifications, then hand the socket to its pumps. Refusals are
// returned without writing so the HTTP route renders the error envelope;
// once the upgrade succeeded the route must not touch the response.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	ident, err := g.validator.Admit(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		return err
	}

	if g.cfg.MaxConnsPerUser > 0 && g.presence.Count(ident.ID) >= g.cfg.MaxConnsPerUser {
		return ErrTooManyConnections
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &Conn{
		id:       uuid.New().String(),
		identity: ident.ID,
		ws:       ws,
		gw:       g,
		send:     make(chan model.Frame, 64),
		state:    connOpen,
	}

	g.mu.Lock()
	g.conns[conn.id] = conn
	g.mu.Unlock()
	metrics.WSConnections.Inc()

	logger.Log.Info("gateway: connection admitted",
		zap.String("identity", conn.identity), zap.String("conn_id", conn.id))

	go conn.writePump()

	// catch-up strictly before live fan-out: the connection joins the
	// presence registry only once the backlog is queued, so a deliver
	// command arriving off the bridge mid-replay cannot overtake older
	// PENDING rows. Until then those rows stay on the outbox path.
	g.replayPending(r.Context(), conn)
	conn.joinPresence()

	go conn.readPump()
	return nil
}

// replayPending delivers the recipient's PENDING backlog in event creation
// order. Each successful enqueue moves the row PENDING -> DELIVERED; the ack
// timeout sweep reclaims anything the client never confirms.
func (g *Gateway) replayPending(ctx context.Context, c *Conn) {
	rows, err := g.store.ListPending(ctx, c.identity, 0)
	if err != nil {
		logger.Log.Error("gateway: catch-up fetch failed",
			zap.String("identity", c.identity), zap.Error(err))
		return
	}
	for _, n := range rows {
		if !g.pushToConn(ctx, c, n) {
			return
		}
	}
}

// deliverLocal handles one deliver command off the push bridge. Commands for
// identities without local presence belong to another gateway (or to the
// offline path) and are dropped here.
func (g *Gateway) deliverLocal(n model.Notification) {
	connIDs := g.presence.Lookup(n.RecipientID)
	if len(connIDs) == 0 {
		return
	}
	ctx := context.Background()
	for _, id := range connIDs {
		g.mu.RLock()
		c, ok := g.conns[id]
		g.mu.RUnlock()
		if !ok {
			continue
		}
		g.pushToConn(ctx, c, n)
	}
}

// pushToConn sends one notification down one connection. A confirmed send
// (frame accepted by the write pump) transitions PENDING -> DELIVERED; a
// concurrent transition by another connection of the same identity is a
// no-op. Failure leaves the row PENDING for the retry sweep.
func (g *Gateway) pushToConn(ctx context.Context, c *Conn, n model.Notification) bool {
	f, err := model.NewNotificationFrame(n)
	if err != nil {
		logger.Log.Error("gateway: frame build failed", zap.Error(err))
		return false
	}
	if !c.enqueue(f) {
		metrics.DeliveryAttemptsTotal.WithLabelValues("failed").Inc()
		return false
	}

	err = g.store.TransitionState(ctx, n.ID, model.StatePending, model.StateDelivered)
	if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		logger.Log.Error("gateway: mark delivered failed",
			zap.String("notification_id", n.ID), zap.Error(err))
	}
	if err == nil {
		metrics.NotificationsTotal.WithLabelValues("delivered", n.Kind.String()).Inc()
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues("pushed").Inc()
	return true
}

// handleInbound processes a client frame from the read pump.
func (g *Gateway) handleInbound(c *Conn, f model.Frame) {
	switch f.Type {
	case model.FrameAck:
		if f.NotificationID == "" {
			return
		}
		err := g.store.Ack(context.Background(), c.identity, f.NotificationID)
		if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
			logger.Log.Error("gateway: ack failed",
				zap.String("notification_id", f.NotificationID), zap.Error(err))
			return
		}
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues("acked", "").Inc()
		}
	case model.FrameHeartbeat:
		c.enqueue(model.Frame{Type: model.FrameHeartbeat})
	default:
		logger.Log.Debug("gateway: ignoring frame",
			zap.String("type", string(f.Type)), zap.String("conn_id", c.id))
	}
}

// closeConn tears a connection down exactly once: registry entry removed
// first (closure is never lazy), then the transport. Reconnection always
// creates a fresh Conn.
func (g *Gateway) closeConn(c *Conn) {
	if !c.beginClose() {
		return
	}

	g.presence.Unregister(c.identity, c.id)
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()

	close(c.send)
	_ = c.ws.Close()
	c.markClosed()
	metrics.WSConnections.Dec()

	logger.Log.Info("gateway: connection closed",
		zap.String("identity", c.identity), zap.String("conn_id", c.id))
}

// Shutdown force-closes every live connection.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	open := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		open = append(open, c)
	}
	g.mu.RUnlock()
	for _, c := range open {
		g.closeConn(c)
	}
}
