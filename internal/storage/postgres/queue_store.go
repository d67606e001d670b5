package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// QueueStore is a URLQueueStore backed by the url_queue and url_seen tables.
type QueueStore struct {
	db    *DB
	clock crawler.Clock

	pushSQL  string
	popSQL   string
	countSQL string
}

// NewQueueStore builds a QueueStore on db.
func NewQueueStore(db *DB, clock crawler.Clock) *QueueStore {
	queue, seen := db.table("url_queue"), db.table("url_seen")
	return &QueueStore{
		db:    db,
		clock: clock,
		// The seen row is the duplicate guard: when it already exists nothing is queued.
		pushSQL: fmt.Sprintf(`
WITH seen AS (
	INSERT INTO %[2]s (session_id, method, url)
	VALUES ($1, $2, $3)
	ON CONFLICT DO NOTHING
	RETURNING session_id
)
INSERT INTO %[1]s (
	session_id, method, url, meta_data, encoding, parent_url, depth, last_modified, create_time
)
SELECT $1, $2, $3, $4::jsonb, $5::text, $6::text, $7::integer, $8::timestamptz, $9::timestamptz
FROM seen`, queue, seen),
		popSQL: fmt.Sprintf(`
DELETE FROM %[1]s
WHERE id = (
	SELECT id FROM %[1]s
	WHERE session_id = $1
	ORDER BY id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, session_id, method, url, meta_data, encoding, parent_url, depth, last_modified, create_time`, queue),
		countSQL: fmt.Sprintf(`SELECT count(*) FROM %s WHERE session_id = $1`, queue),
	}
}

// Push inserts req unless the session has already seen its (method, url) pair.
func (s *QueueStore) Push(ctx context.Context, sessionID string, req crawler.RequestData, parent *crawler.QueueEntry) (bool, error) {
	entry, err := crawler.NewQueueEntry(sessionID, req, parent, s.clock.Now())
	if err != nil {
		return false, err
	}
	meta, err := marshalMeta(entry.MetaData)
	if err != nil {
		return false, err
	}
	tag, err := s.db.pool.Exec(ctx, s.pushSQL,
		entry.SessionID,
		entry.Method,
		entry.URL,
		meta,
		entry.Encoding,
		entry.ParentURL,
		entry.Depth,
		entry.LastModified,
		entry.CreateTime,
	)
	if err != nil {
		return false, crawler.StoreError("push queue entry", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Pop deletes and returns the oldest entry of the session. Concurrent callers
// skip rows locked by each other, so an entry is handed out once.
func (s *QueueStore) Pop(ctx context.Context, sessionID string) (crawler.QueueEntry, bool, error) {
	var (
		entry crawler.QueueEntry
		meta  []byte
	)
	err := s.db.pool.QueryRow(ctx, s.popSQL, sessionID).Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.Method,
		&entry.URL,
		&meta,
		&entry.Encoding,
		&entry.ParentURL,
		&entry.Depth,
		&entry.LastModified,
		&entry.CreateTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueEntry{}, false, nil
	}
	if err != nil {
		return crawler.QueueEntry{}, false, crawler.StoreError("pop queue entry", err)
	}
	if entry.MetaData, err = unmarshalMeta(meta); err != nil {
		return crawler.QueueEntry{}, false, err
	}
	return entry, true, nil
}

// Count returns the number of pending entries of the session.
func (s *QueueStore) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.pool.QueryRow(ctx, s.countSQL, sessionID).Scan(&n); err != nil {
		return 0, crawler.StoreError("count queue entries", err)
	}
	return n, nil
}

// DeleteBySession removes pending entries and the visited set of the session.
func (s *QueueStore) DeleteBySession(ctx context.Context, sessionID string) error {
	for _, table := range []string{s.db.table("url_queue"), s.db.table("url_seen")} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, table)
		if _, err := s.db.pool.Exec(ctx, query, sessionID); err != nil {
			return crawler.StoreError("delete queue session", err)
		}
	}
	return nil
}

// DeleteAll empties the frontier.
func (s *QueueStore) DeleteAll(ctx context.Context) error {
	query := fmt.Sprintf(`TRUNCATE %s, %s`, s.db.table("url_queue"), s.db.table("url_seen"))
	if _, err := s.db.pool.Exec(ctx, query); err != nil {
		return crawler.StoreError("truncate queue", err)
	}
	return nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta data: %w", err)
	}
	return b, nil
}

func unmarshalMeta(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta data: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
