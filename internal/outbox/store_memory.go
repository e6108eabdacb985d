package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"certmint/pkg/requestcontext"
)

// InMemoryStore keeps outbox events in memory for tests and development.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemory constructs an empty in-memory outbox store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.CreatedAt = requestcontext.Now(ctx)
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) FetchUnpublished(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.PublishedAt != nil {
			continue
		}
		out = append(out, event)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	for i := range s.events {
		if _, ok := marked[s.events[i].ID]; ok {
			stamp := at
			s.events[i].PublishedAt = &stamp
		}
	}
	return nil
}

// All returns every stored event, for test assertions.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
