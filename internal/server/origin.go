package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy is the set of browser origins allowed to open WebSockets and
// make credentialed API calls.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   *slog.Logger
}

// NewOriginPolicy normalises origins. "*" allows every origin; invalid
// entries are logged and ignored.
func NewOriginPolicy(origins []string, logger *slog.Logger) *OriginPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &OriginPolicy{allowed: make(map[string]struct{}), logger: logger}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether origin is on the allow-list.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// CheckOrigin is the websocket.Upgrader hook.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.Allowed(origin) {
		return true
	}
	p.logger.Warn("Blocked WebSocket connection from disallowed origin", "origin", origin)
	return false
}

// CORS adds credentialed CORS headers for allowed origins and answers
// preflight requests.
func (p *OriginPolicy) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if p.Allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
