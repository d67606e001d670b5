package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// ResultStore appends access results and their owned data rows.
type ResultStore struct {
	db        *DB
	insertSQL string
}

// NewResultStore builds a ResultStore on db.
func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{
		db: db,
		insertSQL: fmt.Sprintf(`
WITH r AS (
	INSERT INTO %[1]s (
		session_id, rule_id, url, parent_url, status, http_status_code, method,
		mime_type, charset, content_length, execution_time, last_modified, create_time
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	RETURNING id
)
INSERT INTO %[2]s (id, transformer_name, data, encoding)
SELECT id, $14::text, $15::bytea, $16::text FROM r
RETURNING id`, db.table("access_result"), db.table("access_result_data")),
	}
}

// Insert writes result and its data in one statement and sets result.ID.
func (s *ResultStore) Insert(ctx context.Context, result *crawler.AccessResult) error {
	if result == nil {
		return errors.New("access result is nil")
	}
	var id int64
	err := s.db.pool.QueryRow(ctx, s.insertSQL,
		result.SessionID,
		result.RuleID,
		result.URL,
		result.ParentURL,
		string(result.Status),
		result.HTTPStatusCode,
		result.Method,
		result.MimeType,
		result.CharSet,
		result.ContentLength,
		result.ExecutionTime.Milliseconds(),
		result.LastModified,
		result.CreateTime,
		result.Data.TransformerName,
		result.Data.Data,
		result.Data.Encoding,
	).Scan(&id)
	if err != nil {
		return crawler.StoreError("insert access result", err)
	}
	result.ID = id
	return nil
}

// Count returns the number of results of the session.
func (s *ResultStore) Count(ctx context.Context, sessionID string) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE session_id = $1`, s.db.table("access_result"))
	var n int64
	if err := s.db.pool.QueryRow(ctx, query, sessionID).Scan(&n); err != nil {
		return 0, crawler.StoreError("count access results", err)
	}
	return n, nil
}

// DeleteBySession removes the session's results; data rows cascade.
func (s *ResultStore) DeleteBySession(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.db.table("access_result"))
	if _, err := s.db.pool.Exec(ctx, query, sessionID); err != nil {
		return crawler.StoreError("delete access results", err)
	}
	return nil
}

// DeleteAll removes every result.
func (s *ResultStore) DeleteAll(ctx context.Context) error {
	query := fmt.Sprintf(`TRUNCATE %s, %s`, s.db.table("access_result_data"), s.db.table("access_result"))
	if _, err := s.db.pool.Exec(ctx, query); err != nil {
		return crawler.StoreError("truncate access results", err)
	}
	return nil
}
