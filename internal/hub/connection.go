package hub

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/pairchat/internal/auth"
)

// Connection is one accepted WebSocket plus the identity bound to it at
// handshake. It is owned by the Hub.
type Connection struct {
	id       string
	conn     *websocket.Conn
	addr     string
	identity auth.Identity
	hub      *Hub
	logger   *slog.Logger
	monitor  *Monitor
	limiter  *rate.Limiter

	// inbound holds frames read but not yet persisted and relayed. readPump
	// is its only sender and closes it on exit.
	inbound chan []byte

	// mu guards send against a close racing with a relay or broadcast.
	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

func newConnection(h *Hub, conn *websocket.Conn, addr string, id auth.Identity) *Connection {
	cfg := h.cfg
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		addr:     addr,
		identity: id,
		hub:      h,
		send:     make(chan []byte, cfg.SendBuffer),
		inbound:  make(chan []byte, cfg.InboundBuffer),
		limiter:  rate.NewLimiter(rate.Every(cfg.RateInterval/time.Duration(cfg.RateBurst)), cfg.RateBurst),
	}
	c.logger = h.logger.With("conn", c.id, "addr", addr, "user", id.UserID)
	c.monitor = NewMonitor(h.scheduler, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, c.ping, c.onLivenessTimeout)
	return c
}

// ID returns the connection id used in logs.
func (c *Connection) ID() string { return c.id }

// Identity returns the bound identity. ok is false for unauthenticated
// connections.
func (c *Connection) Identity() (auth.Identity, bool) {
	return c.identity, c.identity.UserID != ""
}

// trySend queues msg without blocking. It reports false when the connection
// is closed or its queue is full.
func (c *Connection) trySend(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue, which makes writePump send a close
// frame and exit. Safe to call more than once.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Connection) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("close connection", "error", err)
	}
}

// ping is the monitor's probe. Gorilla allows control frames concurrently
// with the writer goroutine.
func (c *Connection) ping() error {
	deadline := time.Now().Add(c.hub.cfg.HeartbeatTimeout)
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *Connection) onLivenessTimeout() {
	c.logger.Info("connection terminated", "error", ErrLivenessTimeout)
	c.hub.metrics.LivenessTimeouts.Inc()
	c.closeConn()
	c.hub.deregister(c)
}

// readPump never waits on the store, so pong frames keep reaching the
// monitor while a slow write is in progress.
func (c *Connection) readPump() {
	defer func() {
		close(c.inbound)
		c.hub.deregister(c)
		c.closeConn()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.monitor.Pong()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.limiter.Allow() {
			c.logger.Debug("rate limit exceeded, dropping event")
			c.hub.metrics.EventsDropped.WithLabelValues(dropRateLimited).Inc()
			continue
		}
		select {
		case c.inbound <- raw:
		default:
			c.logger.Warn("inbound backlog full, dropping event")
			c.hub.metrics.EventsDropped.WithLabelValues(dropBacklog).Inc()
		}
	}
}

// processPump handles queued frames one at a time, keeping each sender's
// messages in the order they were read.
func (c *Connection) processPump() {
	for raw := range c.inbound {
		c.hub.handleInbound(c, raw)
	}
}

// handleReadError logs why the read loop ended.
func (c *Connection) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded size limit", "limit", c.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.logger.Info("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn("unexpected close", "error", err)
	default:
		c.logger.Warn("read error", "error", err)
	}
}

// writePump is the only goroutine writing data frames. Each queued payload
// goes out as its own text frame.
func (c *Connection) writePump() {
	defer c.closeConn()

	timeout := c.hub.cfg.WriteTimeout
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			c.logger.Warn("set write deadline", "error", err)
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("write message", "error", err)
			}
			return
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(timeout)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("write close frame", "error", err)
	}
}

// isExpectedCloseError reports errors that are routine while a connection is
// being torn down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
