package profile

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps profiles in a map. Used when no database is
// configured, and by tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]Profile)}
}

func (s *InMemoryStore) Upsert(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) ListCompleted(ctx context.Context, excludeUserID string) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.UserID == excludeUserID || !p.Completed {
			continue
		}
		out = append(out, p)
	}
	// Map order is random; keep listings stable for deterministic ranking.
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemoryStore) Close() {}
