package server

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/pairchat/internal/attachment"
	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/config"
	"github.com/Tyrowin/pairchat/internal/hub"
	"github.com/Tyrowin/pairchat/internal/store"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config      *config.Config
	Hub         *hub.Hub
	Tokens      *auth.TokenManager
	Passwords   *auth.PasswordHasher
	Users       store.UserStore
	Messages    store.MessageStore
	Attachments *attachment.Store
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	cfg         *config.Config
	hub         *hub.Hub
	tokens      *auth.TokenManager
	passwords   *auth.PasswordHasher
	users       store.UserStore
	messages    store.MessageStore
	attachments *attachment.Store
	gatherer    prometheus.Gatherer
	logger      *slog.Logger

	origins  *OriginPolicy
	upgrader websocket.Upgrader
	validate *validator.Validate
}

// New creates a Server.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	origins := NewOriginPolicy(d.Config.AllowedOrigins, logger)

	return &Server{
		cfg:         d.Config,
		hub:         d.Hub,
		tokens:      d.Tokens,
		passwords:   d.Passwords,
		users:       d.Users,
		messages:    d.Messages,
		attachments: d.Attachments,
		gatherer:    d.Gatherer,
		logger:      logger,
		origins:     origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HubConfig maps the service configuration onto hub settings.
func HubConfig(cfg *config.Config) hub.Config {
	hc := hub.DefaultConfig()
	hc.HeartbeatInterval = cfg.Heartbeat.Interval
	hc.HeartbeatTimeout = cfg.Heartbeat.Timeout
	hc.SendBuffer = cfg.SendBuffer
	hc.MaxMessageSize = cfg.MaxMessageSize
	hc.RateBurst = cfg.RateLimit.Burst
	hc.RateInterval = cfg.RateLimit.RefillInterval
	return hc
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	return s.origins.CORS(s.Routes())
}
