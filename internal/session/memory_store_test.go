package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id string) *Session {
	return &Session{
		ID:          id,
		ClientID:    "client-1",
		ClientName:  "Ada",
		DeveloperID: "dev-1",
		Status:      StatusPending,
		Timestamp:   time.Now(),
		Duration:    30,
		TotalAmount: "0.05",
	}
}

func TestMemoryStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := testSession("s1")
	require.NoError(t, store.Create(ctx, s))
	assert.ErrorIs(t, store.Create(ctx, s), ErrSessionExists)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	// The store holds its own copy.
	got.Status = StatusAccepted
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	got.Status = StatusAccepted
	require.NoError(t, store.Update(ctx, got))
	updated, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Update(ctx, testSession("missing")), ErrSessionNotFound)
}

func TestMemoryStore_ListByParticipant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := testSession("a")
	a.Timestamp = time.Now().Add(-time.Hour)
	b := testSession("b")
	other := testSession("c")
	other.ClientID = "client-2"
	other.DeveloperID = "dev-2"

	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))
	require.NoError(t, store.Create(ctx, other))

	list, err := store.ListByParticipant(ctx, "dev-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID) // newest first

	list, err = store.ListByParticipant(ctx, "client-2", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = store.ListByParticipant(ctx, "dev-1", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_WatchDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testSession("w1")))

	updates, stop, err := store.Watch(ctx, "w1")
	require.NoError(t, err)
	defer stop()

	// Existing document arrives immediately.
	first := <-updates
	assert.Equal(t, StatusPending, first.Status)

	s, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	s.Status = StatusAccepted
	require.NoError(t, store.Update(ctx, s))

	select {
	case next := <-updates:
		assert.Equal(t, StatusAccepted, next.Status)
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}
}

func TestMemoryStore_WatchStopClosesChannel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testSession("w2")))

	updates, stop, err := store.Watch(ctx, "w2")
	require.NoError(t, err)
	<-updates

	stop()
	stop() // double stop must be safe

	select {
	case _, ok := <-updates:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after stop")
	}

	// Updates after stop must not panic or deliver.
	s, err := store.Get(ctx, "w2")
	require.NoError(t, err)
	s.Status = StatusRejected
	require.NoError(t, store.Update(ctx, s))
}

func TestMemoryStore_WatchBeforeCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	updates, stop, err := store.Watch(ctx, "w3")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, store.Create(ctx, testSession("w3")))

	select {
	case s := <-updates:
		assert.Equal(t, "w3", s.ID)
	case <-time.After(time.Second):
		t.Fatal("creation not delivered to early watcher")
	}
}
