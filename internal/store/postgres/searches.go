package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	domaudit "github.com/kailas-cloud/vulnharvest/internal/domain/audit"
)

const (
	sqlInsertSearch = `INSERT INTO search_queries (id, query, caller_ip, caller_agent, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING`

	sqlFinalizeSearch = `UPDATE search_queries SET results_count = $2
	WHERE id = $1 AND results_count IS NULL`

	sqlSearchExists = `SELECT EXISTS (SELECT 1 FROM search_queries WHERE id = $1)`

	sqlGetSearch = `SELECT id, query, caller_ip, caller_agent, created_at, results_count
	FROM search_queries WHERE id = $1`

	sqlRecentSearches = `SELECT id, query, caller_ip, caller_agent, created_at, results_count
	FROM search_queries ORDER BY created_at DESC LIMIT $1`

	sqlDeleteSearches = `DELETE FROM search_queries`
)

// AuditStore implements harvest.AuditStore and catalog.AuditRepository.
type AuditStore struct {
	pool DBPool
}

// Create stores a new audit record.
func (s *AuditStore) Create(ctx context.Context, rec domaudit.Record) error {
	tag, err := s.pool.Exec(ctx, sqlInsertSearch,
		rec.ID(), rec.Query(), rec.CallerIP(), rec.CallerAgent(), rec.CreatedAt())
	if err != nil {
		return fmt.Errorf("insert search %s: %w", rec.ID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("search %s: %w", rec.ID(), domain.ErrAlreadyExists)
	}
	return nil
}

// Finalize sets the result count once. The IS NULL guard makes the write single-shot.
func (s *AuditStore) Finalize(ctx context.Context, id string, count int) error {
	tag, err := s.pool.Exec(ctx, sqlFinalizeSearch, id, count)
	if err != nil {
		return fmt.Errorf("finalize search %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, sqlSearchExists, id).Scan(&exists); err != nil {
		return fmt.Errorf("check search %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("search %s: %w", id, domain.ErrAlreadyFinalized)
}

// Get returns one audit record.
func (s *AuditStore) Get(ctx context.Context, id string) (domaudit.Record, error) {
	rec, err := scanSearch(s.pool.QueryRow(ctx, sqlGetSearch, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domaudit.Record{}, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domaudit.Record{}, fmt.Errorf("get search %s: %w", id, err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]domaudit.Record, error) {
	rows, err := s.pool.Query(ctx, sqlRecentSearches, limit)
	if err != nil {
		return nil, fmt.Errorf("recent searches: %w", err)
	}
	defer rows.Close()

	var out []domaudit.Record
	for rows.Next() {
		rec, err := scanSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate searches: %w", err)
	}
	return out, nil
}

// DeleteAll removes every audit record. Returns the number removed.
func (s *AuditStore) DeleteAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, sqlDeleteSearches)
	if err != nil {
		return 0, fmt.Errorf("delete searches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSearch(row pgx.Row) (domaudit.Record, error) {
	var (
		id, query, ip, agent string
		created              time.Time
		count                *int32
	)
	if err := row.Scan(&id, &query, &ip, &agent, &created, &count); err != nil {
		return domaudit.Record{}, err
	}
	var n *int
	if count != nil {
		v := int(*count)
		n = &v
	}
	return domaudit.Reconstruct(id, query, ip, agent, created.UTC(), n), nil
}
