// Package memory holds in-process stores used for single-run crawls and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// ResultStore is an append-only in-memory AccessResultStore.
type ResultStore struct {
	mu      sync.RWMutex
	nextID  int64
	results map[string][]crawler.AccessResult
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string][]crawler.AccessResult)}
}

// Insert assigns an ID and stores a copy of result.
func (s *ResultStore) Insert(_ context.Context, result *crawler.AccessResult) error {
	if result == nil {
		return errors.New("access result is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	result.ID = s.nextID
	stored := *result
	stored.Data.Data = append([]byte(nil), result.Data.Data...)
	s.results[result.SessionID] = append(s.results[result.SessionID], stored)
	return nil
}

// Count returns the number of results recorded for the session.
func (s *ResultStore) Count(_ context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.results[sessionID])), nil
}

// List returns the session's results in insertion order.
func (s *ResultStore) List(sessionID string) []crawler.AccessResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.AccessResult(nil), s.results[sessionID]...)
}

// DeleteBySession drops every result of the session.
func (s *ResultStore) DeleteBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, sessionID)
	return nil
}

// DeleteAll drops every result.
func (s *ResultStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make(map[string][]crawler.AccessResult)
	return nil
}
