package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.WillID][]audit.Event
	seen   map[uuid.UUID]struct{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.WillID][]audit.Event)
	s.seen = make(map[uuid.UUID]struct{})
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[id.WillID][]audit.Event),
		seen:   make(map[uuid.UUID]struct{}),
	}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID != uuid.Nil {
		if _, dup := s.seen[event.ID]; dup {
			return nil
		}
		s.seen[event.ID] = struct{}{}
	}
	s.events[event.WillID] = append(s.events[event.WillID], event)
	return nil
}

// ListByWill returns a will's events in emission order.
func (s *InMemoryStore) ListByWill(_ context.Context, willID id.WillID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[willID]...), nil
}

// ListRecent returns the most recent N events across all wills, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	var all []audit.Event
	for _, willEvents := range s.events {
		all = append(all, willEvents...)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
