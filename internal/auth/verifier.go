// Package auth issues and verifies the signed session tokens that bind a
// connection or HTTP request to a user identity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying the session token.
const CookieName = "token"

var (
	// ErrUnauthenticated is returned when a token is absent, malformed,
	// wrongly signed or expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTokenExpired is returned when an otherwise valid token has expired.
	ErrTokenExpired = fmt.Errorf("%w: token has expired", ErrUnauthenticated)
)

// Identity is the authenticated user bound to a connection or request.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Verifier validates a session token and extracts the identity it carries.
// Implementations must be safe for concurrent use and free of side effects.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Claims are the JWT claims of a session token.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. A non-positive ttl issues tokens
// without expiry.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "pairchat",
		now:    time.Now,
	}
}

// Issue signs a token for id.
func (m *TokenManager) Issue(id Identity) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   m.issuer,
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify implements Verifier.
func (m *TokenManager) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: no token", ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}

	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// TokenFromRequest extracts the session token from the token cookie, falling
// back to an "Authorization: Bearer" header for non-browser clients.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// IdentityFromRequest verifies the request's session token.
func IdentityFromRequest(v Verifier, r *http.Request) (Identity, error) {
	return v.Verify(TokenFromRequest(r))
}
