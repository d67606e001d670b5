package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// document is the indexed shape of an access result. The payload bytes are
// carried base64 encoded next to the metadata.
type document struct {
	*crawler.AccessResult
	Payload []byte `json:"payload,omitempty"`
}

// ResultStore is an append-only AccessResultStore over an Index.
type ResultStore struct {
	idx Index
	seq atomic.Int64
}

// NewResultStore builds a ResultStore. IDs continue from the clock's
// microsecond reading so restarts do not reuse them.
func NewResultStore(idx Index, clock crawler.Clock) *ResultStore {
	s := &ResultStore{idx: idx}
	s.seq.Store(clock.Now().UnixMicro())
	return s
}

// Insert indexes result and sets result.ID on success.
func (s *ResultStore) Insert(ctx context.Context, result *crawler.AccessResult) error {
	if result == nil {
		return errors.New("access result is nil")
	}
	id := s.seq.Add(1)
	stored := *result
	stored.ID = id
	if err := s.idx.Put(ctx, strconv.FormatInt(id, 10), document{AccessResult: &stored, Payload: result.Data.Data}); err != nil {
		return err
	}
	result.ID = id
	return nil
}

// Get looks a result up by primary key.
func (s *ResultStore) Get(ctx context.Context, id int64) (*crawler.AccessResult, bool, error) {
	src, ok, err := s.idx.Get(ctx, strconv.FormatInt(id, 10))
	if err != nil || !ok {
		return nil, false, err
	}
	doc := document{AccessResult: &crawler.AccessResult{}}
	if err := json.Unmarshal(src, &doc); err != nil {
		return nil, false, fmt.Errorf("decode access result %d: %w", id, err)
	}
	doc.AccessResult.Data.Data = doc.Payload
	return doc.AccessResult, true, nil
}

// Count implements crawler.AccessResultStore.
func (s *ResultStore) Count(ctx context.Context, sessionID string) (int64, error) {
	return s.idx.Count(ctx, Term("session_id", sessionID))
}

// DeleteBySession implements crawler.AccessResultStore.
func (s *ResultStore) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := s.idx.DeleteByQuery(ctx, Term("session_id", sessionID))
	return err
}

// DeleteAll implements crawler.AccessResultStore.
func (s *ResultStore) DeleteAll(ctx context.Context) error {
	_, err := s.idx.DeleteByQuery(ctx, MatchAll())
	return err
}
