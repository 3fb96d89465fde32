package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes registers every endpoint on a gorilla/mux router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.WebSocketHandler)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet)
	r.HandleFunc("/people", s.handlePeople).Methods(http.MethodGet)
	r.HandleFunc("/messages/{userId}", s.handleMessages).Methods(http.MethodGet)

	if s.attachments != nil {
		r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", s.attachments.Handler())).Methods(http.MethodGet)
	}
	return r
}
