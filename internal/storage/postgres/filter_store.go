package postgres

import (
	"context"
	"fmt"

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

// AddPatterns inserts patterns in one statement so readers never see a partial list.
func (s *FilterStore) AddPatterns(ctx context.Context, sessionID string, kind crawler.FilterKind, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (session_id, kind, pattern)
SELECT $1, $2, p FROM unnest($3::text[]) WITH ORDINALITY AS t(p, n)
ORDER BY n`, s.db.table("url_filter"))
	if _, err := s.db.pool.Exec(ctx, query, sessionID, string(kind), patterns); err != nil {
		return crawler.StoreError("add filter patterns", err)
	}
	return nil
}

// Patterns returns the session's patterns of kind in insertion order.
func (s *FilterStore) Patterns(ctx context.Context, sessionID string, kind crawler.FilterKind) ([]string, error) {
	query := fmt.Sprintf(`SELECT pattern FROM %s WHERE session_id = $1 AND kind = $2 ORDER BY id`,
		s.db.table("url_filter"))
	rows, err := s.db.pool.Query(ctx, query, sessionID, string(kind))
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.db.table("url_filter"))
	if _, err := s.db.pool.Exec(ctx, query, sessionID); err != nil {
		return crawler.StoreError("delete filter patterns", err)
	}
	return nil
}

// DeleteAll empties the url_filter table.
func (s *FilterStore) DeleteAll(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, s.db.table("url_filter"))
	if _, err := s.db.pool.Exec(ctx, query); err != nil {
		return crawler.StoreError("delete all filter patterns", err)
	}
	return nil
}
