package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestCreateAssignsIDAndTimestamp verifies the store fills in id and createdAt.
func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	db := openTestDB(t)

	msg, err := db.Create(context.Background(), NewMessage{Sender: "s", Recipient: "r", Text: "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, "s", msg.Sender)
	assert.Equal(t, "r", msg.Recipient)
	assert.Equal(t, "hi", msg.Text)
	assert.Empty(t, msg.File)
}

// TestCreateRejectsEmptyDrafts verifies nothing is persisted without
// recipient or content.
func TestCreateRejectsEmptyDrafts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Create(ctx, NewMessage{Sender: "s", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = db.Create(ctx, NewMessage{Sender: "s", Recipient: "r"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msgs, err := db.Find(ctx, "s", "r")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// TestCreateOrdering verifies strictly increasing ids and timestamps even
// when the clock does not advance.
func TestCreateOrdering(t *testing.T) {
	db := openTestDB(t)
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return frozen }
	ctx := context.Background()

	var prev Message
	for i := 0; i < 50; i++ {
		msg, err := db.Create(ctx, NewMessage{Sender: "s", Recipient: "r", Text: "m"})
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, msg.ID, prev.ID)
			assert.True(t, msg.CreatedAt.After(prev.CreatedAt))
		}
		prev = msg
	}
}

// TestFindReturnsConversationInOrder verifies both directions are returned in
// insertion order and other conversations are excluded.
func TestFindReturnsConversationInOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	drafts := []NewMessage{
		{Sender: "a", Recipient: "b", Text: "1"},
		{Sender: "b", Recipient: "a", Text: "2"},
		{Sender: "a", Recipient: "c", Text: "other"},
		{Sender: "a", Recipient: "b", File: "1700000000000.png"},
	}
	for _, d := range drafts {
		_, err := db.Create(ctx, d)
		require.NoError(t, err)
	}

	msgs, err := db.Find(ctx, "b", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "1", msgs[0].Text)
	assert.Equal(t, "2", msgs[1].Text)
	assert.Equal(t, "1700000000000.png", msgs[2].File)
}

// TestFindDoesNotConfuseSeparators verifies participant ids containing key
// separators do not leak across conversations.
func TestFindDoesNotConfuseSeparators(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Create(ctx, NewMessage{Sender: "x.y", Recipient: "z", Text: "first"})
	require.NoError(t, err)
	_, err = db.Create(ctx, NewMessage{Sender: "x", Recipient: "y.z", Text: "second"})
	require.NoError(t, err)

	msgs, err := db.Find(ctx, "x.y", "z")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Text)
}

// TestMessagesSurviveReopen verifies durability on disk.
func TestMessagesSurviveReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	db, err := Open(dir)
	require.NoError(t, err)
	created, err := db.Create(ctx, NewMessage{Sender: "a", Recipient: "b", Text: "persisted"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	msgs, err := db.Find(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, created.ID, msgs[0].ID)
	assert.True(t, created.CreatedAt.Equal(msgs[0].CreatedAt))
}

// TestUsers verifies registration, lookup and listing.
func TestUsers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	bob, err := db.CreateUser(ctx, "bob", "hash-b")
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, "alice", "hash-a")
	require.NoError(t, err)

	_, err = db.CreateUser(ctx, "Bob", "hash-x")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	found, err := db.UserByName(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, found.ID)
	assert.Equal(t, "hash-b", found.PasswordHash)

	_, err = db.UserByName(ctx, "carol")
	assert.ErrorIs(t, err, ErrNotFound)

	users, err := db.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}

// TestCanceledContext verifies operations respect cancellation.
func TestCanceledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.Create(ctx, NewMessage{Sender: "a", Recipient: "b", Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = db.Find(ctx, "a", "b")
	assert.ErrorIs(t, err, context.Canceled)
}
