// Package store owns the Postgres connection pool, transactions and schema.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the query surface shared by pools, connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner is a DBTX that can open transactions.
type Beginner interface {
	DBTX
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store wraps the database handle used by every component.
type Store struct {
	db   Beginner
	pool *pgxpool.Pool
}

// New wraps an existing handle.
func New(db Beginner) *Store {
	return &Store{db: db}
}

// Open connects a pool to url. maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, url string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(NormalizeURL(url))
	if err != nil {
		return nil, fmt.Errorf("parsing database url %s: %w", SanitizeURL(url), err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to %s: %w", SanitizeURL(url), err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// DB returns the non-transactional handle.
func (s *Store) DB() DBTX { return s.db }

// Pool returns the underlying pool, or nil when the store wraps another handle.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InTx runs fn inside one transaction. Any error from fn rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var credentials = regexp.MustCompile(`(//)[^/@]+:[^@]+@`)

// SanitizeURL strips user:password from a connection URL for logging.
func SanitizeURL(url string) string {
	return credentials.ReplaceAllString(url, "$1")
}

// NormalizeURL accepts JDBC-style and postgres:// URLs and returns a
// postgresql:// URL pgx understands.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimPrefix(url, "jdbc:")
	if strings.HasPrefix(url, "postgres://") {
		url = "postgresql://" + strings.TrimPrefix(url, "postgres://")
	}
	return url
}
