package session

import (
	"sync"
	"time"

	"promoagent/internal/domain"
)

// DefaultTTL is how long a pending clarification survives without a reply.
const DefaultTTL = 30 * time.Minute

// Store keeps at most one pending intent per session. It is safe for
// concurrent use; entries expire after the configured TTL.
type Store struct {
	mu      sync.Mutex
	pending map[string]domain.PendingIntent
	ttl     time.Duration
	now     func() time.Time
}

// NewStore returns an empty store. A non-positive ttl uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		pending: make(map[string]domain.PendingIntent),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Pending returns a copy of the session's pending intent, if any.
func (s *Store) Pending(sessionID string) (*domain.PendingIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[sessionID]
	if !ok {
		return nil, false
	}
	if s.now().Sub(p.CreatedAt) > s.ttl {
		delete(s.pending, sessionID)
		return nil, false
	}
	cp := clone(p)
	return &cp, true
}

// Remember stores intent for sessionID, replacing any earlier one.
func (s *Store) Remember(sessionID string, intent domain.PendingIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = s.now()
	}
	s.pending[sessionID] = clone(intent)
}

// Clear drops the session's pending intent.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
}

// Len returns the number of sessions with a live pending intent.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.pending {
		if s.now().Sub(p.CreatedAt) > s.ttl {
			delete(s.pending, id)
			continue
		}
		n++
	}
	return n
}

func clone(p domain.PendingIntent) domain.PendingIntent {
	args := make(map[string]any, len(p.Arguments))
	for k, v := range p.Arguments {
		args[k] = v
	}
	p.Arguments = args
	p.Fields = append([]string(nil), p.Fields...)
	return p
}
