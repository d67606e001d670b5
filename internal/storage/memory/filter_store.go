package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

type patternKey struct {
	sessionID string
	kind      crawler.FilterKind
}

// FilterStore keeps URL filter patterns per session. Readers always get a full snapshot.
type FilterStore struct {
	mu       sync.RWMutex
	patterns map[patternKey][]string
}

// NewFilterStore constructs a FilterStore.
func NewFilterStore() *FilterStore {
	return &FilterStore{patterns: make(map[patternKey][]string)}
}

// AddPatterns appends patterns atomically.
func (s *FilterStore) AddPatterns(_ context.Context, sessionID string, kind crawler.FilterKind, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := patternKey{sessionID, kind}
	s.patterns[key] = append(s.patterns[key], patterns...)
	return nil
}

// Patterns returns the session's patterns of kind in insertion order.
func (s *FilterStore) Patterns(_ context.Context, sessionID string, kind crawler.FilterKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.patterns[patternKey{sessionID, kind}]...), nil
}

// DeleteBySession removes both pattern lists of the session.
func (s *FilterStore) DeleteBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, patternKey{sessionID, crawler.FilterInclude})
	delete(s.patterns, patternKey{sessionID, crawler.FilterExclude})
	return nil
}

// DeleteAll removes the patterns of every session.
func (s *FilterStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.patterns)
	return nil
}
