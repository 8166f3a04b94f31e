package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and as cmd/gateway's
// audit store. It is bounded by Limit to avoid
// unbounded growth in long-running processes; once full, the oldest event
// is evicted.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	Limit  int
}

// NewMemoryStore returns a MemoryStore retaining at most limit events (0
// means unbounded — only appropriate for tests).
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{Limit: limit}
}

func (s *MemoryStore) StoreAudit(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.Limit > 0 && len(s.events) > s.Limit {
		s.events = s.events[len(s.events)-s.Limit:]
	}
	return nil
}

func (s *MemoryStore) Flush(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Events returns a snapshot of the events currently retained.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
