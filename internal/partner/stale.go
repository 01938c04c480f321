package partner

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// staleEntry is one known-good response retained for fallback service.
type staleEntry struct {
	resp     Response
	storedAt time.Time
}

// staleStore holds the most recent known-good response per request
// signature, bounded with FIFO eviction.
type staleStore struct {
	mu      sync.Mutex
	max     int
	entries map[string]staleEntry
	order   []string
}

func newStaleStore(max int) *staleStore {
	return &staleStore{
		max:     max,
		entries: make(map[string]staleEntry, max),
	}
}

func (s *staleStore) set(sig string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[sig]; !exists {
		if len(s.order) >= s.max {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
		s.order = append(s.order, sig)
	}
	s.entries[sig] = staleEntry{resp: resp, storedAt: time.Now()}
}

func (s *staleStore) get(sig string) (staleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sig]
	return e, ok
}

// requestSignature keys the stale store by method and normalized URL. Query
// parameters are sorted so parameter order does not split cache entries.
func requestSignature(method, rawURL string) string {
	normalized := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
		normalized = u.String()
	}

	sum := sha256.Sum256([]byte(method + " " + normalized))
	return hex.EncodeToString(sum[:])
}
