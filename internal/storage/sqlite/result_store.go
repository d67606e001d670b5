package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// ResultStore appends access results and their data rows.
type ResultStore struct {
	db *DB
}

// NewResultStore builds a ResultStore on db.
func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db}
}

// Insert writes result and its data in one transaction and sets result.ID.
func (s *ResultStore) Insert(ctx context.Context, result *crawler.AccessResult) error {
	if result == nil {
		return errors.New("access result is nil")
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return crawler.StoreError("begin insert result", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO access_result (
	session_id, rule_id, url, parent_url, status, http_status_code, method,
	mime_type, charset, content_length, execution_time, last_modified, create_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.SessionID, result.RuleID, result.URL, result.ParentURL, string(result.Status),
		result.HTTPStatusCode, result.Method, result.MimeType, result.CharSet, result.ContentLength,
		result.ExecutionTime.Milliseconds(), toNanos(result.LastModified), result.CreateTime.UnixNano())
	if err != nil {
		return crawler.StoreError("insert access result", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.StoreError("insert access result", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO access_result_data (id, transformer_name, data, encoding) VALUES (?, ?, ?, ?)`,
		id, result.Data.TransformerName, result.Data.Data, result.Data.Encoding); err != nil {
		return crawler.StoreError("insert access result data", err)
	}
	if err := tx.Commit(); err != nil {
		return crawler.StoreError("commit insert result", err)
	}
	result.ID = id
	return nil
}

// Data loads the stored data of one result.
func (s *ResultStore) Data(ctx context.Context, id int64) (crawler.AccessResultData, error) {
	var data crawler.AccessResultData
	err := s.db.db.QueryRowContext(ctx,
		`SELECT transformer_name, data, encoding FROM access_result_data WHERE id = ?`, id).
		Scan(&data.TransformerName, &data.Data, &data.Encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.AccessResultData{}, fmt.Errorf("access result data %d: %w", id, err)
	}
	if err != nil {
		return crawler.AccessResultData{}, crawler.StoreError("load access result data", err)
	}
	return data, nil
}

// Count returns the number of results of the session.
func (s *ResultStore) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.db.QueryRowContext(ctx,
		`SELECT count(*) FROM access_result WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, crawler.StoreError("count access results", err)
	}
	return n, nil
}

// DeleteBySession removes the session's results; data rows cascade.
func (s *ResultStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM access_result WHERE session_id = ?`, sessionID); err != nil {
		return crawler.StoreError("delete access results", err)
	}
	return nil
}

// DeleteAll removes every result.
func (s *ResultStore) DeleteAll(ctx context.Context) error {
	for _, q := range []string{`DELETE FROM access_result_data`, `DELETE FROM access_result`} {
		if _, err := s.db.db.ExecContext(ctx, q); err != nil {
			return crawler.StoreError("clear access results", err)
		}
	}
	return nil
}
