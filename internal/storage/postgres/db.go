// Package postgres provides Postgres-backed frontier, filter and result stores.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

//go:embed schema.sql
var schemaSQL string

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTablePrefix is prepended to every table name.
const DefaultTablePrefix = "crawl_"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it in tests.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// DB shares one pool between the stores.
type DB struct {
	pool   pool
	prefix string
}

// Open connects to Postgres using cfg.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db, err := NewWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return db, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool, prefix string) (*DB, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	if !validTablePrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &DB{pool: p, prefix: prefix}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, db.schema()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (db *DB) schema() string {
	return strings.ReplaceAll(schemaSQL, "{prefix}", db.prefix)
}

func (db *DB) table(name string) string {
	return db.prefix + name
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping postgres: %v", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db == nil || db.pool == nil {
		return
	}
	db.pool.Close()
}
