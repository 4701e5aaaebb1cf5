package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxsocial/notifygw/internal/logger"
	"github.com/voxsocial/notifygw/internal/model"
)

type liveness int

const (
	connOpen liveness = iota
	connClosing
	connClosed
)

// socket is the slice of *websocket.Conn the gateway uses. Tests substitute
// an in-memory implementation.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is one live bidirectional channel. The gateway owns it exclusively;
// the presence registry only ever holds its id.
type Conn struct {
	id       string
	identity string
	ws       socket
	gw       *Gateway

	send chan model.Frame

	mu    sync.Mutex
	state liveness
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Identity() string { return c.identity }

// enqueue hands a frame to the write pump. A full buffer counts as a send
// failure so a stalled client cannot block delivery workers. The mutex is
// held across the send attempt so teardown cannot close the channel between
// the state check and the send.
func (c *Conn) enqueue(f model.Frame) bool {
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- f:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	logger.Log.Warn("gateway: send buffer full, closing connection",
		zap.String("conn_id", c.id), zap.String("identity", c.identity))
	c.gw.closeConn(c)
	return false
}

// joinPresence publishes the connection for live delivery. Skipped when the
// connection died during catch-up replay; holding the mutex means teardown
// either already unregistered (state is past OPEN) or will run after the
// registration and remove it.
func (c *Conn) joinPresence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return
	}
	c.gw.presence.Register(c.identity, c.id)
}

// beginClose moves OPEN -> CLOSING once; reports whether the caller should
// proceed with teardown.
func (c *Conn) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return false
	}
	c.state = connClosing
	return true
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.state = connClosed
	c.mu.Unlock()
}

// readPump consumes inbound frames (acks, heartbeats) until the transport
// errors or the heartbeat deadline lapses.
func (c *Conn) readPump() {
	defer c.gw.closeConn(c)

	c.ws.SetReadLimit(c.gw.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// any inbound traffic proves liveness
		_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))

		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Log.Debug("gateway: unparseable frame",
				zap.String("conn_id", c.id), zap.Error(err))
			continue
		}
		c.gw.handleInbound(c, f)
	}
}

// writePump owns all writes to the socket: outbound frames plus pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.gw.closeConn(c)
	}()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			payload, err := json.Marshal(f)
			if err != nil {
				logger.Log.Error("gateway: marshal frame", zap.Error(err))
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
