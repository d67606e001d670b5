package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// QueueStore is a URLQueueStore on the url_queue and url_seen tables.
type QueueStore struct {
	db    *DB
	clock crawler.Clock
}

// NewQueueStore builds a QueueStore on db.
func NewQueueStore(db *DB, clock crawler.Clock) *QueueStore {
	return &QueueStore{db: db, clock: clock}
}

// Push records the (method, url) pair as seen and queues the entry in one transaction.
func (s *QueueStore) Push(ctx context.Context, sessionID string, req crawler.RequestData, parent *crawler.QueueEntry) (bool, error) {
	entry, err := crawler.NewQueueEntry(sessionID, req, parent, s.clock.Now())
	if err != nil {
		return false, err
	}
	meta := []byte("{}")
	if len(entry.MetaData) > 0 {
		if meta, err = json.Marshal(entry.MetaData); err != nil {
			return false, fmt.Errorf("marshal meta data: %w", err)
		}
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, crawler.StoreError("begin push", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO url_seen (session_id, method, url) VALUES (?, ?, ?)`,
		entry.SessionID, entry.Method, entry.URL)
	if err != nil {
		return false, crawler.StoreError("mark url seen", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, crawler.StoreError("mark url seen", err)
	} else if n == 0 {
		return false, nil
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO url_queue (session_id, method, url, meta_data, encoding, parent_url, depth, last_modified, create_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Method, entry.URL, string(meta), entry.Encoding,
		entry.ParentURL, entry.Depth, toNanos(entry.LastModified), entry.CreateTime.UnixNano())
	if err != nil {
		return false, crawler.StoreError("insert queue entry", err)
	}
	if err := tx.Commit(); err != nil {
		return false, crawler.StoreError("commit push", err)
	}
	return true, nil
}

// Pop deletes and returns the oldest entry of the session.
func (s *QueueStore) Pop(ctx context.Context, sessionID string) (crawler.QueueEntry, bool, error) {
	var (
		entry    crawler.QueueEntry
		meta     string
		modified sql.NullInt64
		created  int64
	)
	err := s.db.db.QueryRowContext(ctx, `
DELETE FROM url_queue
WHERE id = (SELECT id FROM url_queue WHERE session_id = ? ORDER BY id LIMIT 1)
RETURNING id, session_id, method, url, meta_data, encoding, parent_url, depth, last_modified, create_time`,
		sessionID).Scan(
		&entry.ID, &entry.SessionID, &entry.Method, &entry.URL, &meta,
		&entry.Encoding, &entry.ParentURL, &entry.Depth, &modified, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.QueueEntry{}, false, nil
	}
	if err != nil {
		return crawler.QueueEntry{}, false, crawler.StoreError("pop queue entry", err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &entry.MetaData); err != nil {
			return crawler.QueueEntry{}, false, fmt.Errorf("unmarshal meta data: %w", err)
		}
	}
	entry.LastModified = fromNanos(modified)
	entry.CreateTime = time.Unix(0, created).UTC()
	return entry, true, nil
}

// Count returns the number of pending entries of the session.
func (s *QueueStore) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.db.QueryRowContext(ctx,
		`SELECT count(*) FROM url_queue WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, crawler.StoreError("count queue entries", err)
	}
	return n, nil
}

// DeleteBySession removes pending entries and the visited set of the session.
func (s *QueueStore) DeleteBySession(ctx context.Context, sessionID string) error {
	for _, q := range []string{
		`DELETE FROM url_queue WHERE session_id = ?`,
		`DELETE FROM url_seen WHERE session_id = ?`,
	} {
		if _, err := s.db.db.ExecContext(ctx, q, sessionID); err != nil {
			return crawler.StoreError("delete queue session", err)
		}
	}
	return nil
}

// DeleteAll empties the frontier.
func (s *QueueStore) DeleteAll(ctx context.Context) error {
	for _, q := range []string{`DELETE FROM url_queue`, `DELETE FROM url_seen`} {
		if _, err := s.db.db.ExecContext(ctx, q); err != nil {
			return crawler.StoreError("clear queue", err)
		}
	}
	return nil
}
