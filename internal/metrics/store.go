package metrics

import (
	"sort"
	"sync"
	"time"

	"portaria/internal/model"
)

// Store keeps the most recent run stats per source. The watch loop reads it
// to report drift between consecutive runs.
type Store struct {
	mu        sync.RWMutex
	bySource  map[string]model.RunStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 64
	}
	return &Store{
		bySource:  make(map[string]model.RunStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

// Update records stats and returns the previous entry for the same source.
func (s *Store) Update(stats model.RunStats) (model.RunStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.bySource[stats.Source]
	s.bySource[stats.Source] = stats
	s.updatedAt[stats.Source] = time.Now().UTC()
	if len(s.bySource) > s.limit {
		s.evictOldest()
	}
	return prev, ok
}

func (s *Store) Get(source string) (model.RunStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.bySource[source]
	if !ok {
		return model.RunStats{}, time.Time{}, false
	}
	return st, s.updatedAt[source], true
}

// Sources lists tracked sources in name order.
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySource))
	for src := range s.bySource {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

func (s *Store) evictOldest() {
	var oldestSource string
	var oldest time.Time
	for src, ts := range s.updatedAt {
		if oldestSource == "" || ts.Before(oldest) {
			oldestSource = src
			oldest = ts
		}
	}
	if oldestSource != "" {
		delete(s.bySource, oldestSource)
		delete(s.updatedAt, oldestSource)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySource = make(map[string]model.RunStats)
	s.updatedAt = make(map[string]time.Time)
}
