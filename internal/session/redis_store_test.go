package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisTest(t *testing.T) *RedisStore {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return NewRedisStore(client)
}

func TestRedisStore_CRUD(t *testing.T) {
	store := redisTest(t)
	ctx := context.Background()

	s := testSession("rd-1")
	require.NoError(t, store.Create(ctx, s))
	assert.ErrorIs(t, store.Create(ctx, s), ErrSessionExists)

	got, err := store.Get(ctx, "rd-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got.Status = StatusPaid
	got.CallID = "booking-rd"
	require.NoError(t, store.Update(ctx, got))

	final, err := store.Get(ctx, "rd-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, final.Status)
	assert.Equal(t, "booking-rd", final.CallID)

	_, err = store.Get(ctx, "rd-missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Update(ctx, testSession("rd-missing")), ErrSessionNotFound)
}

func TestRedisStore_ListByParticipant(t *testing.T) {
	store := redisTest(t)
	ctx := context.Background()

	a := testSession("rd-list-a")
	a.Timestamp = time.Now().Add(-time.Hour)
	b := testSession("rd-list-b")
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	list, err := store.ListByParticipant(ctx, "client-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rd-list-b", list[0].ID)
}

func TestRedisStore_WatchPushesUpdates(t *testing.T) {
	store := redisTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := testSession("rd-watch")
	require.NoError(t, store.Create(ctx, s))

	updates, stop, err := store.Watch(ctx, "rd-watch")
	require.NoError(t, err)
	defer stop()

	first := <-updates
	assert.Equal(t, StatusPending, first.Status)

	s.Status = StatusActive
	s.StartTime = time.Now()
	require.NoError(t, store.Update(ctx, s))

	select {
	case next := <-updates:
		assert.Equal(t, StatusActive, next.Status)
		assert.False(t, next.StartTime.IsZero())
	case <-ctx.Done():
		t.Fatal("pub/sub update not delivered")
	}
}

func TestRedisStore_ServerTime(t *testing.T) {
	store := redisTest(t)

	serverNow, err := store.ServerTime(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), serverNow, time.Minute)
}
