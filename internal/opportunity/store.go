package opportunity

import (
	"sort"
	"sync"
	"time"
)

// DefaultListLimit caps ListActive when the caller passes no limit.
const DefaultListLimit = 20

// Store keeps detected opportunities with lazy expiry: expired records are
// filtered out of reads and reclaimed by Compact, not deleted on the spot.
type Store struct {
	mu    sync.RWMutex
	items map[string]MicroOpportunity
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]MicroOpportunity),
		now:   time.Now,
	}
}

func (s *Store) Add(ops ...MicroOpportunity) {
	if len(ops) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.items[op.ID] = op
	}
}

// ListActive returns non-expired opportunities ordered by descending
// confidence, ties broken by earliest expiry first since those are the most
// time-critical. limit <= 0 applies DefaultListLimit.
func (s *Store) ListActive(limit int) []MicroOpportunity {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	now := s.now()

	s.mu.RLock()
	active := make([]MicroOpportunity, 0, len(s.items))
	for _, op := range s.items {
		if now.Before(op.ExpiresAt) {
			active = append(active, op)
		}
	}
	s.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].Confidence != active[j].Confidence {
			return active[i].Confidence > active[j].Confidence
		}
		return active[i].ExpiresAt.Before(active[j].ExpiresAt)
	})
	if len(active) > limit {
		active = active[:limit]
	}
	return active
}

// ActiveCount reports the number of currently visible opportunities.
func (s *Store) ActiveCount() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, op := range s.items {
		if now.Before(op.ExpiresAt) {
			n++
		}
	}
	return n
}

// Compact reclaims expired records and returns how many were removed. Run
// periodically by the serve loop.
func (s *Store) Compact() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, op := range s.items {
		if !now.Before(op.ExpiresAt) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}
