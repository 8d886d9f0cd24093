package session

import (
	"context"
	"time"
)

// Store persists session documents and pushes live updates to watchers.
//
// Watch delivers the current document immediately (when it exists) and then
// every subsequent update until the returned stop function is called or the
// context ends. Deliveries may be coalesced under load and duplicates are
// possible; consumers must treat snapshots idempotently. The channel is
// closed once the subscription stops.
//
// ServerTime returns the store's own clock. Countdown math uses it instead
// of the local clock so a skewed client cannot stretch or shrink a call.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	ListByParticipant(ctx context.Context, participantID string, limit int) ([]*Session, error)
	Watch(ctx context.Context, id string) (<-chan *Session, func(), error)
	ServerTime(ctx context.Context) (time.Time, error)
}
