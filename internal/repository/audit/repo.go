// Package audit stores search audit records as Redis hashes under <prefix>search:<id>.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	domaudit "github.com/kailas-cloud/vulnharvest/internal/domain/audit"
)

const (
	fieldID          = "id"
	fieldQuery       = "query"
	fieldCallerIP    = "caller_ip"
	fieldCallerAgent = "caller_agent"
	fieldCreatedAt   = "created_at"
	fieldResultCount = "results_count"
)

// store is the consumer interface for audit records (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements harvest.AuditStore and catalog.AuditRepository.
type Repo struct {
	store  store
	prefix string
}

// New creates an audit repository. An empty prefix takes domain.KeyPrefix.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{store: s, prefix: prefix}
}

// Create stores a new audit record.
func (r *Repo) Create(ctx context.Context, rec domaudit.Record) error {
	key := r.key(rec.ID())
	created, err := r.store.HSetNX(ctx, key, fieldID, rec.ID())
	if err != nil {
		return fmt.Errorf("hsetnx %s: %w", key, err)
	}
	if !created {
		return fmt.Errorf("search %s: %w", rec.ID(), domain.ErrAlreadyExists)
	}
	fields := map[string]string{
		fieldQuery:       rec.Query(),
		fieldCallerIP:    rec.CallerIP(),
		fieldCallerAgent: rec.CallerAgent(),
		fieldCreatedAt:   rec.CreatedAt().Format(time.RFC3339Nano),
	}
	if err := r.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// Finalize sets the result count once, atomically (HSETNX).
func (r *Repo) Finalize(ctx context.Context, id string, count int) error {
	key := r.key(id)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("exists %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	set, err := r.store.HSetNX(ctx, key, fieldResultCount, strconv.Itoa(count))
	if err != nil {
		return fmt.Errorf("hsetnx %s: %w", key, err)
	}
	if !set {
		return fmt.Errorf("search %s: %w", id, domain.ErrAlreadyFinalized)
	}
	return nil
}

// Get returns one audit record.
func (r *Repo) Get(ctx context.Context, id string) (domaudit.Record, error) {
	key := r.key(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domaudit.Record{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domaudit.Record{}, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	return parse(m), nil
}

// Recent returns up to limit records, newest first.
func (r *Repo) Recent(ctx context.Context, limit int) ([]domaudit.Record, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"search:*")
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	rows, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load searches: %w", err)
	}

	recs := make([]domaudit.Record, 0, len(rows))
	for _, m := range rows {
		if len(m) > 0 {
			recs = append(recs, parse(m))
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt().After(recs[j].CreatedAt()) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// DeleteAll removes every audit record. Returns the number removed.
func (r *Repo) DeleteAll(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"search:*")
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete searches: %w", err)
	}
	return len(keys), nil
}

func (r *Repo) key(id string) string {
	return r.prefix + "search:" + id
}

func parse(m map[string]string) domaudit.Record {
	created, _ := time.Parse(time.RFC3339Nano, m[fieldCreatedAt])
	var count *int
	if n, err := strconv.Atoi(m[fieldResultCount]); err == nil {
		count = &n
	}
	return domaudit.Reconstruct(m[fieldID], m[fieldQuery], m[fieldCallerIP], m[fieldCallerAgent], created, count)
}
