package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for demo/development mode and
// tests. Watch notifications are delivered from the updating goroutine with
// a small buffer; slow watchers miss intermediate snapshots rather than
// blocking writers.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	watchers map[string]map[int]chan *Session
	nextID   int
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		watchers: make(map[string]map[int]chan *Session),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	m.sessions[s.ID] = s.Clone()
	m.notifyLocked(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = s.Clone()
	m.notifyLocked(s)
	return nil
}

func (m *MemoryStore) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.ClientID == participantID || s.DeveloperID == participantID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Watch(ctx context.Context, id string) (<-chan *Session, func(), error) {
	m.mu.Lock()

	ch := make(chan *Session, 8)
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[int]chan *Session)
	}
	key := m.nextID
	m.nextID++
	m.watchers[id][key] = ch

	// Initial snapshot, mirroring a subscription that fires immediately.
	if s, ok := m.sessions[id]; ok {
		ch <- s.Clone()
	}
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.watchers[id]; ok {
				if c, ok := set[key]; ok {
					delete(set, key)
					close(c)
				}
				if len(set) == 0 {
					delete(m.watchers, id)
				}
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}

func (m *MemoryStore) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (m *MemoryStore) notifyLocked(s *Session) {
	for _, ch := range m.watchers[s.ID] {
		select {
		case ch <- s.Clone():
		default: // watcher lagging, drop the snapshot
		}
	}
}
