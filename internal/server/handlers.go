package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Tyrowin/pairchat/internal/auth"
)

// WebSocketHandler upgrades GET /ws and hands the connection to the hub. The
// session token is verified once here; a missing or invalid token leaves the
// connection unauthenticated rather than refusing it.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	id, err := auth.IdentityFromRequest(s.tokens, r)
	if err != nil {
		level := s.logger.Debug
		if !errors.Is(err, auth.ErrUnauthenticated) {
			level = s.logger.Warn
		}
		level("WebSocket connection is unauthenticated", "addr", r.RemoteAddr, "error", err)
		id = auth.Identity{}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	s.hub.Accept(conn, r.RemoteAddr, id)
}

// HealthHandler reports that the server is up.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "pairchat server is running, %d connections", s.hub.Registry().Len())
}
