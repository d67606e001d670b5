package sqlite

import (
	"context"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// FilterStore keeps URL filter patterns in the url_filter table.
type FilterStore struct {
	db *DB
}

// NewFilterStore builds a FilterStore on db.
func NewFilterStore(db *DB) *FilterStore {
	return &FilterStore{db: db}
}

// AddPatterns inserts the batch in one transaction.
func (s *FilterStore) AddPatterns(ctx context.Context, sessionID string, kind crawler.FilterKind, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return crawler.StoreError("begin add patterns", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO url_filter (session_id, kind, pattern) VALUES (?, ?, ?)`)
	if err != nil {
		return crawler.StoreError("prepare add patterns", err)
	}
	defer stmt.Close()
	for _, p := range patterns {
		if _, err := stmt.ExecContext(ctx, sessionID, string(kind), p); err != nil {
			return crawler.StoreError("insert filter pattern", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return crawler.StoreError("commit add patterns", err)
	}
	return nil
}

// Patterns returns the session's patterns of kind in insertion order.
func (s *FilterStore) Patterns(ctx context.Context, sessionID string, kind crawler.FilterKind) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT pattern FROM url_filter WHERE session_id = ? AND kind = ? ORDER BY id`,
		sessionID, string(kind))
	if err != nil {
		return nil, crawler.StoreError("query filter patterns", err)
	}
	defer rows.Close()
	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, crawler.StoreError("scan filter pattern", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StoreError("iterate filter patterns", err)
	}
	return patterns, nil
}

// DeleteBySession removes every pattern of the session.
func (s *FilterStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM url_filter WHERE session_id = ?`, sessionID); err != nil {
		return crawler.StoreError("delete filter patterns", err)
	}
	return nil
}

// DeleteAll empties the url_filter table.
func (s *FilterStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM url_filter`); err != nil {
		return crawler.StoreError("delete all filter patterns", err)
	}
	return nil
}
