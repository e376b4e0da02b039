// Package vulnerability stores canonical records as Redis hashes.
//
// Layout: <prefix>vuln:<CVE ID> holds the record; <prefix>title:<sha256(title)>
// points at the CVE ID of the first record stored under that exact title.
package vulnerability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/kailas-cloud/vulnharvest/internal/db"
	"github.com/kailas-cloud/vulnharvest/internal/domain"
	domvuln "github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

const deleteBatch = 500

// store is the consumer interface for vulnerability records (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
}

// Repo implements reconcile.Store and catalog.VulnerabilityRepository.
type Repo struct {
	store  store
	prefix string
}

// New creates a vulnerability repository. An empty prefix takes domain.KeyPrefix.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{store: s, prefix: prefix}
}

// FindByCVEIDOrTitle looks up by CVE ID, then by exact title.
func (r *Repo) FindByCVEIDOrTitle(ctx context.Context, cveID, title string) (domvuln.Record, error) {
	if cveID != "" {
		rec, err := r.get(ctx, cveID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return rec, err
		}
	}
	if title == "" {
		return domvuln.Record{}, domain.ErrNotFound
	}

	id, err := r.store.Get(ctx, r.titleKey(title))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domvuln.Record{}, domain.ErrNotFound
		}
		return domvuln.Record{}, fmt.Errorf("title lookup: %w", err)
	}
	return r.get(ctx, string(id))
}

func (r *Repo) get(ctx context.Context, cveID string) (domvuln.Record, error) {
	key := r.vulnKey(cveID)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domvuln.Record{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domvuln.Record{}, domain.ErrNotFound
	}
	return parseHashFields(m), nil
}

// Insert stores a new record. The cve_id field doubles as a create guard.
func (r *Repo) Insert(ctx context.Context, rec domvuln.Record) error {
	key := r.vulnKey(rec.CVEID())
	created, err := r.store.HSetNX(ctx, key, fieldCVEID, rec.CVEID())
	if err != nil {
		return fmt.Errorf("hsetnx %s: %w", key, err)
	}
	if !created {
		return fmt.Errorf("%s: %w", rec.CVEID(), domain.ErrAlreadyExists)
	}
	if err := r.store.HSet(ctx, key, buildHashFields(rec)); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return r.indexTitle(ctx, rec)
}

// UpdateMerged writes vulnerability.Merge(existing, incoming) under existing's key.
func (r *Repo) UpdateMerged(ctx context.Context, existing, incoming domvuln.Record) error {
	merged := domvuln.Merge(existing, incoming)
	key := r.vulnKey(merged.CVEID())
	if err := r.store.HSet(ctx, key, buildHashFields(merged)); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	if merged.Title() != existing.Title() {
		return r.indexTitle(ctx, merged)
	}
	return nil
}

// indexTitle points the title at the record unless another record claimed it first.
func (r *Repo) indexTitle(ctx context.Context, rec domvuln.Record) error {
	if rec.Title() == "" {
		return nil
	}
	if _, err := r.store.SetNX(ctx, r.titleKey(rec.Title()), []byte(rec.CVEID())); err != nil {
		return fmt.Errorf("index title: %w", err)
	}
	return nil
}

// Search filters every stored record in memory and returns one ordered page.
func (r *Repo) Search(ctx context.Context, text string, offset, limit int) ([]domvuln.Record, int, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("negative offset %d: %w", offset, domain.ErrInvalidQuery)
	}
	keys, err := r.store.Scan(ctx, r.prefix+"vuln:*")
	if err != nil {
		return nil, 0, fmt.Errorf("scan: %w", err)
	}
	rows, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, 0, fmt.Errorf("load records: %w", err)
	}

	matched := make([]domvuln.Record, 0, len(rows))
	for _, m := range rows {
		if len(m) == 0 {
			continue
		}
		if rec := parseHashFields(m); rec.Matches(text) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return domvuln.ListLess(matched[i], matched[j]) })

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// DeleteAll removes every record and title pointer. Returns the record count.
func (r *Repo) DeleteAll(ctx context.Context) (int, error) {
	vulns, err := r.store.Scan(ctx, r.prefix+"vuln:*")
	if err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}
	titles, err := r.store.Scan(ctx, r.prefix+"title:*")
	if err != nil {
		return 0, fmt.Errorf("scan titles: %w", err)
	}
	if err := deleteKeys(ctx, r.store, append(vulns, titles...)); err != nil {
		return 0, err
	}
	return len(vulns), nil
}

func deleteKeys(ctx context.Context, s store, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		if err := s.Del(ctx, keys[start:end]...); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
	}
	return nil
}

func (r *Repo) vulnKey(cveID string) string {
	return r.prefix + "vuln:" + cveID
}

func (r *Repo) titleKey(title string) string {
	sum := sha256.Sum256([]byte(title))
	return r.prefix + "title:" + hex.EncodeToString(sum[:])
}
