// Package store persists chat messages and user accounts in an embedded
// pebble database.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned when registering a username that exists.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidMessage is returned for drafts without recipient or content.
	ErrInvalidMessage = errors.New("message needs a recipient and text or file")
)

// WriteError reports a failed persistence or attachment write.
type WriteError struct {
	Op  string
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Message is a persisted chat message. The same shape is relayed live and
// returned by history queries.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	File      string    `json:"file,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage is the caller-supplied part of a Message; the store assigns
// the id and timestamp.
type NewMessage struct {
	Sender    string
	Recipient string
	Text      string
	File      string
}

// Valid reports whether the draft has a recipient and some content.
func (m NewMessage) Valid() bool {
	return m.Recipient != "" && (m.Text != "" || m.File != "")
}

// MessageStore is durable append-only message persistence.
type MessageStore interface {
	// Create persists a message. On a write failure the returned Message is
	// still fully formed and the error is a *WriteError.
	Create(ctx context.Context, m NewMessage) (Message, error)
	// Find returns the messages exchanged between a and b in either
	// direction, in insertion order.
	Find(ctx context.Context, a, b string) ([]Message, error)
}

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStore holds registered accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	UserByName(ctx context.Context, username string) (User, error)
	Users(ctx context.Context) ([]User, error)
}
