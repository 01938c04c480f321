package cache

import (
	"sync"
	"time"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// localStore is the bounded in-memory secondary resource. It holds the most
// recently seen values so reads can degrade to slightly stale data while the
// primary cache is unreachable. Insertion-order FIFO eviction keeps it
// bounded; precision is not worth an LRU here.
type localStore struct {
	mu      sync.Mutex
	max     int
	entries map[string]localEntry
	order   []string
}

func newLocalStore(max int) *localStore {
	return &localStore{
		max:     max,
		entries: make(map[string]localEntry, max),
	}
}

func (s *localStore) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		if len(s.order) >= s.max {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = localEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

func (s *localStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (s *localStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
