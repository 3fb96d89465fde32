package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
)

// Key layout:
//
//	msg:<hex(lo)>.<hex(hi)>:<uuidv7>   message, lo/hi are the sorted participant ids
//	user:<id>                          user record
//	username:<lowercased name>         user id
const (
	messagePrefix  = "msg:"
	userPrefix     = "user:"
	usernamePrefix = "username:"
)

// DB is the pebble-backed MessageStore and UserStore.
type DB struct {
	db      *pebble.DB
	logger  *slog.Logger
	retries int
	now     func() time.Time

	// mu serialises id allocation with the write so insertion order,
	// id order and CreatedAt order agree.
	mu          sync.Mutex
	lastCreated time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// WithRetries sets how many times a failed message write is attempted.
func WithRetries(n int) Option {
	return func(d *DB) {
		if n > 0 {
			d.retries = n
		}
	}
}

// Open opens (or creates) a pebble database at path.
func Open(path string, opts ...Option) (*DB, error) {
	return open(path, &pebble.Options{}, opts...)
}

// OpenInMemory opens a database backed by an in-memory filesystem.
func OpenInMemory(opts ...Option) (*DB, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, opts...)
}

func open(path string, popts *pebble.Options, opts ...Option) (*DB, error) {
	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", path, err)
	}
	d := &DB{
		db:      db,
		logger:  slog.Default(),
		retries: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Create implements MessageStore.
func (d *DB) Create(ctx context.Context, m NewMessage) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if !m.Valid() {
		return Message{}, ErrInvalidMessage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("allocate message id: %w", err)
	}
	msg := Message{
		ID:        id.String(),
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Text:      m.Text,
		File:      m.File,
		CreatedAt: d.nextTimestamp(),
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("marshal message: %w", err)
	}
	key := messageKey(msg.Sender, msg.Recipient, msg.ID)
	if err := d.setWithRetry(key, value); err != nil {
		return msg, &WriteError{Op: "message", Key: string(key), Err: err}
	}
	return msg, nil
}

// nextTimestamp returns now, bumped past the previous timestamp when the
// clock has not advanced. Callers hold d.mu.
func (d *DB) nextTimestamp() time.Time {
	now := d.now().UTC()
	if !now.After(d.lastCreated) {
		now = d.lastCreated.Add(time.Nanosecond)
	}
	d.lastCreated = now
	return now
}

func (d *DB) setWithRetry(key, value []byte) error {
	var err error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if err = d.db.Set(key, value, pebble.Sync); err == nil {
			return nil
		}
		d.logger.Warn("Message write failed", "key", string(key), "attempt", attempt, "error", err)
	}
	return err
}

// Find implements MessageStore.
func (d *DB) Find(ctx context.Context, a, b string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := conversationPrefix(a, b)
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	messages := []Message{}
	for iter.First(); iter.Valid(); iter.Next() {
		var m Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", iter.Key(), err)
		}
		messages = append(messages, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateUser implements UserStore.
func (d *DB) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nameKey := []byte(usernamePrefix + strings.ToLower(username))
	if _, err := d.get(nameKey); err == nil {
		return User{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("allocate user id: %w", err)
	}
	user := User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    d.now().UTC(),
	}
	value, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}

	batch := d.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(userPrefix+user.ID), value, nil); err != nil {
		return User{}, err
	}
	if err := batch.Set(nameKey, []byte(user.ID), nil); err != nil {
		return User{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return User{}, &WriteError{Op: "user", Key: string(nameKey), Err: err}
	}
	return user, nil
}

// UserByName implements UserStore.
func (d *DB) UserByName(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id, err := d.get([]byte(usernamePrefix + strings.ToLower(username)))
	if err != nil {
		return User{}, err
	}
	raw, err := d.get([]byte(userPrefix + string(id)))
	if err != nil {
		return User{}, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return user, nil
}

// Users implements UserStore. Results are sorted by username.
func (d *DB) Users(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(userPrefix)
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	users := []User{}
	for iter.First(); iter.Valid(); iter.Next() {
		var u User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", iter.Key(), err)
		}
		users = append(users, u)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (d *DB) get(key []byte) ([]byte, error) {
	value, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(value), nil
}

func conversationPrefix(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(messagePrefix + hex.EncodeToString([]byte(a)) + "." + hex.EncodeToString([]byte(b)) + ":")
}

func messageKey(sender, recipient, id string) []byte {
	return append(conversationPrefix(sender, recipient), id...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
