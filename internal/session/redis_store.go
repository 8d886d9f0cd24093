package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists session documents in Redis and serves Watch through
// pub/sub, so updates push to watchers without polling. Every write also
// publishes the full document to the session's channel.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string     { return "session:" + id }
func sessionChannel(id string) string { return "session.updates:" + id }
func participantKey(id string) string { return "sessions.by:" + id }

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("session: redis create: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}

	score := float64(s.Timestamp.UnixMilli())
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, participantKey(s.ClientID), redis.Z{Score: score, Member: s.ID})
	pipe.ZAdd(ctx, participantKey(s.DeveloperID), redis.Z{Score: score, Member: s.ID})
	pipe.Publish(ctx, sessionChannel(s.ID), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: corrupt document %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	// SET XX: only update an existing document.
	ok, err := r.client.SetXX(ctx, sessionKey(s.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("session: redis update: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}

	return r.client.Publish(ctx, sessionChannel(s.ID), data).Err()
}

func (r *RedisStore) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.client.ZRevRange(ctx, participantKey(participantID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis list: %w", err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue // index entry outlived the document
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) Watch(ctx context.Context, id string) (<-chan *Session, func(), error) {
	sub := r.client.Subscribe(ctx, sessionChannel(id))
	// Force the subscription onto the wire before the initial snapshot so
	// no update can slip between snapshot and subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("session: redis subscribe: %w", err)
	}

	ch := make(chan *Session, 8)
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(ch)
		defer func() { _ = sub.Close() }()

		if s, err := r.Get(watchCtx, id); err == nil {
			select {
			case ch <- s:
			case <-watchCtx.Done():
				return
			}
		}

		msgs := sub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s Session
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					continue
				}
				select {
				case ch <- &s:
				case <-watchCtx.Done():
					return
				}
			}
		}
	}()

	return ch, cancel, nil
}

// ServerTime returns Redis server time, the shared clock both parties'
// countdowns are measured against.
func (r *RedisStore) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("session: redis time: %w", err)
	}
	return t, nil
}
