package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/store"
)

type credentials struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=1,max=72"`
}

type person struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return c, false
	}
	if err := s.validate.Struct(c); err != nil {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return c, false
	}
	return c, true
}

func (s *Server) setSession(w http.ResponseWriter, id auth.Identity) error {
	token, err := s.tokens.Issue(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   int(s.cfg.TokenTTL / time.Second),
	})
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}

	hash, err := s.passwords.Hash(c.Password)
	if err != nil {
		s.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	user, err := s.users.CreateUser(r.Context(), c.Username, hash)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		s.logger.Error("create user", "username", c.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if err := s.setSession(w, auth.Identity{UserID: user.ID, Username: user.Username}); err != nil {
		s.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	s.logger.Info("user registered", "user", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := s.users.UserByName(r.Context(), c.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("look up user", "username", c.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err != nil || !s.passwords.Verify(c.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := s.setSession(w, auth.Identity{UserID: user.ID, Username: user.Username}); err != nil {
		s.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": user.ID})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, err := auth.IdentityFromRequest(s.tokens, r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no token")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.Users(r.Context())
	if err != nil {
		s.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list people")
		return
	}

	people := make([]person, 0, len(users))
	for _, u := range users {
		people = append(people, person{ID: u.ID, Username: u.Username})
	}
	writeJSON(w, http.StatusOK, people)
}

// handleMessages returns the caller's conversation with {userId} in
// insertion order.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, err := auth.IdentityFromRequest(s.tokens, r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no token")
		return
	}
	other := mux.Vars(r)["userId"]

	msgs, err := s.messages.Find(r.Context(), id.UserID, other)
	if err != nil {
		s.logger.Error("find messages", "user", id.UserID, "peer", other, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
