// Package postgres implements the vulnerability and search audit contracts on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS vulnerabilities (
	cve_id            TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	severity          TEXT NOT NULL DEFAULT 'MEDIUM',
	cvss_score        DOUBLE PRECISION,
	cvss_vector       TEXT NOT NULL DEFAULT '',
	source_name       TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	published_at      TIMESTAMPTZ,
	affected_packages TEXT[] NOT NULL DEFAULT '{}',
	refs              TEXT[] NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS vulnerabilities_title_idx ON vulnerabilities (title);
CREATE INDEX IF NOT EXISTS vulnerabilities_listing_idx
	ON vulnerabilities (published_at DESC NULLS LAST, cvss_score DESC NULLS LAST, cve_id);
CREATE TABLE IF NOT EXISTS search_queries (
	id            TEXT PRIMARY KEY,
	query         TEXT NOT NULL,
	caller_ip     TEXT NOT NULL DEFAULT '',
	caller_agent  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	results_count INTEGER
);
CREATE INDEX IF NOT EXISTS search_queries_created_idx ON search_queries (created_at DESC);
`

// Store holds the pool shared by the vulnerability and audit repositories.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pgx pool for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("postgres")}, nil
}

// Migrate creates the tables and indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.log.Info("Schema migrated")
	return nil
}

// Ping satisfies the health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Vulnerabilities returns the vulnerability repository backed by this store.
func (s *Store) Vulnerabilities() *VulnerabilityStore {
	return &VulnerabilityStore{pool: s.pool}
}

// Audits returns the search audit repository backed by this store.
func (s *Store) Audits() *AuditStore {
	return &AuditStore{pool: s.pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
