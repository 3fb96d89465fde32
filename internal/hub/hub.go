package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/store"
)

// Config tunes connection handling.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendBuffer        int
	InboundBuffer     int
	MaxMessageSize    int64
	RateBurst         int
	RateInterval      time.Duration
	WriteTimeout      time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  500 * time.Millisecond,
		SendBuffer:        256,
		InboundBuffer:     64,
		MaxMessageSize:    16 << 20,
		RateBurst:         10,
		RateInterval:      time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func (c *Config) sanitize() {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 || c.HeartbeatTimeout >= c.HeartbeatInterval {
		c.HeartbeatTimeout = c.HeartbeatInterval / 2
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = def.InboundBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.RateInterval <= 0 {
		c.RateInterval = def.RateInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
}

// AttachmentStore receives files offloaded from inbound messages.
type AttachmentStore interface {
	Filename(original string) string
	Save(ctx context.Context, name string, data []byte) error
}

// Option configures a Hub.
type Option func(*Hub)

// WithConfig sets the connection settings.
func WithConfig(cfg Config) Option {
	return func(h *Hub) { h.cfg = cfg }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithScheduler replaces the timer source used by liveness monitors.
func WithScheduler(s Scheduler) Option {
	return func(h *Hub) { h.scheduler = s }
}

// WithRegisterer registers the hub metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.reg = reg }
}

// Hub owns all live connections. Registration and deregistration are
// serialised through Run so that each presence broadcast reflects the
// registry changes in the order they happened.
type Hub struct {
	cfg         Config
	registry    *Registry
	messages    store.MessageStore
	attachments AttachmentStore
	scheduler   Scheduler
	logger      *slog.Logger
	reg         prometheus.Registerer
	metrics     *Metrics

	register   chan *Connection
	unregister chan *Connection

	// wg tracks connection goroutines, tasks tracks attachment writes.
	wg    sync.WaitGroup
	tasks sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a hub persisting to messages. attachments may be nil, in which
// case inbound files are discarded.
func New(messages store.MessageStore, attachments AttachmentStore, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:         DefaultConfig(),
		registry:    NewRegistry(),
		messages:    messages,
		attachments: attachments,
		scheduler:   SystemScheduler{},
		logger:      slog.Default(),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.cfg.sanitize()
	h.logger = h.logger.With("component", "hub")
	h.metrics = NewMetrics(h.reg)
	return h
}

// Registry exposes the presence registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Metrics exposes the hub collectors.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Accept hands an upgraded connection to the hub. A zero identity leaves it
// unauthenticated. Accept returns nil if the hub is shutting down, in which
// case the socket is closed.
func (h *Hub) Accept(conn *websocket.Conn, addr string, id auth.Identity) *Connection {
	c := newConnection(h, conn, addr, id)
	select {
	case h.register <- c:
		return c
	case <-h.ctx.Done():
		c.closeConn()
		return nil
	}
}

// deregister asks Run to remove c. It never blocks past shutdown.
func (h *Hub) deregister(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run is the hub event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case c := <-h.register:
			if c == nil {
				continue
			}
			h.handleRegister(c)

		case c := <-h.unregister:
			h.handleUnregister(c)
		}
	}
}

func (h *Hub) handleRegister(c *Connection) {
	if !h.registry.Add(c) {
		return
	}
	h.metrics.Connections.Set(float64(h.registry.Len()))
	c.logger.Info("client registered", "authenticated", c.identity.UserID != "", "total", h.registry.Len())

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	go func() {
		defer h.wg.Done()
		c.processPump()
	}()
	c.monitor.Start()

	h.broadcastPresence()
}

// handleUnregister is a no-op for a connection that is already gone, so the
// read pump and the liveness timeout can both report the same close.
func (h *Hub) handleUnregister(c *Connection) {
	if c == nil || !h.registry.Remove(c) {
		return
	}
	c.monitor.Stop()
	c.closeSend()
	h.metrics.Connections.Set(float64(h.registry.Len()))
	c.logger.Info("client unregistered", "total", h.registry.Len())

	h.broadcastPresence()
}

// broadcastPresence sends one snapshot to every live connection. The payload
// is marshalled once so all receivers get identical bytes.
func (h *Hub) broadcastPresence() {
	online, conns := h.registry.View()
	payload, err := json.Marshal(PresenceEvent{Online: online})
	if err != nil {
		h.logger.Error("marshal presence", "error", err)
		return
	}

	h.metrics.OnlineUsers.Set(float64(len(online)))
	h.metrics.PresenceBroadcasts.Inc()
	for _, c := range conns {
		if !c.trySend(payload) {
			c.logger.Warn("presence dropped, send buffer full or closed")
			h.metrics.EventsDropped.WithLabelValues(dropBufferFull).Inc()
		}
	}
}

// shutdownClients closes every registered connection.
func (h *Hub) shutdownClients() {
	conns := h.registry.Connections()
	for _, c := range conns {
		h.registry.Remove(c)
		c.monitor.Stop()
		c.closeConn()
		c.closeSend()
	}
	h.metrics.Connections.Set(0)
	h.logger.Info("closed client connections", "count", len(conns))
}

// Shutdown stops Run, closes all connections and waits for their goroutines
// and pending attachment writes, up to timeout. Run must have been started.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out, goroutines may still be running")
		return context.DeadlineExceeded
	}
}
