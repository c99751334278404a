package chat

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 10 * time.Second
)

// SlidingWindow allows at most limit sends per connection inside any
// trailing window. Each connection keeps the timestamps of its accepted
// sends; a user's second device has its own budget.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[string][]time.Time // conn_id -> accepted send times, oldest first
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// TryConsume records a send for the connection and reports whether it fits
// the budget. Rejected sends are not recorded.
func (s *SlidingWindow) TryConsume(userID, connID string) bool {
	key := pairKey(userID, connID)
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.hits[key]
	i := 0
	for i < len(q) && !q[i].After(cutoff) {
		i++
	}
	q = q[i:]
	if len(q) >= s.limit {
		s.hits[key] = q
		return false
	}
	s.hits[key] = append(q, now)
	return true
}

// Forget drops the connection's window.
func (s *SlidingWindow) Forget(userID, connID string) {
	s.mu.Lock()
	delete(s.hits, pairKey(userID, connID))
	s.mu.Unlock()
}

func (s *SlidingWindow) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}
