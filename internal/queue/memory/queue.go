// Package memory provides an in-process URL frontier for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

type session struct {
	pending []crawler.QueueEntry
	seen    map[string]struct{}
}

// Queue is a mutex-guarded, session-partitioned frontier with duplicate suppression.
type Queue struct {
	mu       sync.Mutex
	clock    crawler.Clock
	nextID   int64
	sessions map[string]*session
}

// NewQueue constructs an empty frontier.
func NewQueue(clock crawler.Clock) *Queue {
	return &Queue{
		clock:    clock,
		sessions: make(map[string]*session),
	}
}

// Push appends req unless the session has already seen its (method, url) pair.
func (q *Queue) Push(_ context.Context, sessionID string, req crawler.RequestData, parent *crawler.QueueEntry) (bool, error) {
	entry, err := crawler.NewQueueEntry(sessionID, req, parent, q.clock.Now())
	if err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.sessions[sessionID]
	if !ok {
		s = &session{seen: make(map[string]struct{})}
		q.sessions[sessionID] = s
	}
	key := crawler.DedupKey(entry.Method, entry.URL)
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	s.seen[key] = struct{}{}
	q.nextID++
	entry.ID = q.nextID
	s.pending = append(s.pending, entry)
	return true, nil
}

// Pop removes the oldest pending entry of the session.
func (q *Queue) Pop(_ context.Context, sessionID string) (crawler.QueueEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.sessions[sessionID]
	if !ok || len(s.pending) == 0 {
		return crawler.QueueEntry{}, false, nil
	}
	entry := s.pending[0]
	s.pending[0] = crawler.QueueEntry{}
	s.pending = s.pending[1:]
	return entry, true, nil
}

// Count returns the number of pending entries.
func (q *Queue) Count(_ context.Context, sessionID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.sessions[sessionID]; ok {
		return int64(len(s.pending)), nil
	}
	return 0, nil
}

// DeleteBySession drops pending entries and the visited set of the session.
func (q *Queue) DeleteBySession(_ context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.sessions, sessionID)
	return nil
}

// DeleteAll resets the frontier.
func (q *Queue) DeleteAll(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sessions = make(map[string]*session)
	return nil
}
