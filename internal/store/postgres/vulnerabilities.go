package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	domvuln "github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

const vulnColumns = `cve_id, title, description, severity, cvss_score, cvss_vector,
	source_name, source_url, published_at, affected_packages, refs`

const (
	sqlFindVulnerability = `SELECT ` + vulnColumns + ` FROM vulnerabilities
	WHERE cve_id = $1 OR ($2 <> '' AND title = $2)
	ORDER BY (cve_id = $1) DESC, created_at
	LIMIT 1`

	sqlInsertVulnerability = `INSERT INTO vulnerabilities (` + vulnColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (cve_id) DO NOTHING`

	// Empty incoming values keep the stored column.
	sqlUpdateMerged = `UPDATE vulnerabilities SET
	title = COALESCE(NULLIF($2, ''), title),
	description = COALESCE(NULLIF($3, ''), description),
	severity = COALESCE(NULLIF($4, ''), severity),
	cvss_score = COALESCE($5, cvss_score),
	cvss_vector = COALESCE(NULLIF($6, ''), cvss_vector),
	source_name = COALESCE(NULLIF($7, ''), source_name),
	source_url = COALESCE(NULLIF($8, ''), source_url),
	published_at = COALESCE($9, published_at),
	affected_packages = CASE WHEN cardinality($10::text[]) > 0 THEN $10 ELSE affected_packages END,
	refs = CASE WHEN cardinality($11::text[]) > 0 THEN $11 ELSE refs END,
	updated_at = now()
	WHERE cve_id = $1`

	vulnFilter = `WHERE $1 = '' OR title ILIKE $2 OR description ILIKE $2 OR cve_id ILIKE $2
	OR array_to_string(affected_packages, ' ') ILIKE $2`

	sqlCountVulnerabilities = `SELECT count(*) FROM vulnerabilities ` + vulnFilter

	sqlSearchVulnerabilities = `SELECT ` + vulnColumns + ` FROM vulnerabilities ` + vulnFilter + `
	ORDER BY published_at DESC NULLS LAST, cvss_score DESC NULLS LAST, cve_id
	OFFSET $3 LIMIT $4`

	sqlDeleteVulnerabilities = `DELETE FROM vulnerabilities`
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// VulnerabilityStore implements reconcile.Store and catalog.VulnerabilityRepository.
type VulnerabilityStore struct {
	pool DBPool
}

// FindByCVEIDOrTitle prefers a CVE ID match over an exact title match.
func (s *VulnerabilityStore) FindByCVEIDOrTitle(ctx context.Context, cveID, title string) (domvuln.Record, error) {
	rec, err := scanVulnerability(s.pool.QueryRow(ctx, sqlFindVulnerability, cveID, title))
	if errors.Is(err, pgx.ErrNoRows) {
		return domvuln.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domvuln.Record{}, fmt.Errorf("find vulnerability %s: %w", cveID, err)
	}
	return rec, nil
}

// Insert stores a new record. A CVE ID already present yields domain.ErrAlreadyExists.
func (s *VulnerabilityStore) Insert(ctx context.Context, rec domvuln.Record) error {
	tag, err := s.pool.Exec(ctx, sqlInsertVulnerability, recordArgs(rec)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", rec.CVEID(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert vulnerability %s: %w", rec.CVEID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", rec.CVEID(), domain.ErrAlreadyExists)
	}
	return nil
}

// UpdateMerged applies the field merge in a single statement under existing's key.
func (s *VulnerabilityStore) UpdateMerged(ctx context.Context, existing, incoming domvuln.Record) error {
	args := recordArgs(incoming)
	args[0] = existing.CVEID()
	if !incoming.SeverityAssessed() {
		args[3] = ""
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateMerged, args...)
	if err != nil {
		return fmt.Errorf("update vulnerability %s: %w", existing.CVEID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update vulnerability %s: %w", existing.CVEID(), domain.ErrNotFound)
	}
	return nil
}

// Search returns one page of stored records matching text, plus the total match count.
func (s *VulnerabilityStore) Search(ctx context.Context, text string, offset, limit int) ([]domvuln.Record, int, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("negative offset %d: %w", offset, domain.ErrInvalidQuery)
	}
	text = strings.TrimSpace(text)
	pattern := "%" + likeEscaper.Replace(text) + "%"

	var total int
	if err := s.pool.QueryRow(ctx, sqlCountVulnerabilities, text, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vulnerabilities: %w", err)
	}
	if total == 0 || offset >= total {
		return nil, total, nil
	}

	rows, err := s.pool.Query(ctx, sqlSearchVulnerabilities, text, pattern, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search vulnerabilities: %w", err)
	}
	defer rows.Close()

	out := make([]domvuln.Record, 0, min(limit, total-offset))
	for rows.Next() {
		rec, err := scanVulnerability(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan vulnerability: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate vulnerabilities: %w", err)
	}
	return out, total, nil
}

// DeleteAll removes every stored record. Returns the number removed.
func (s *VulnerabilityStore) DeleteAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, sqlDeleteVulnerabilities)
	if err != nil {
		return 0, fmt.Errorf("delete vulnerabilities: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func recordArgs(rec domvuln.Record) []any {
	pkgs := rec.AffectedPackages()
	if pkgs == nil {
		pkgs = []string{}
	}
	refs := rec.References()
	if refs == nil {
		refs = []string{}
	}
	return []any{
		rec.CVEID(),
		rec.Title(),
		rec.Description(),
		rec.Severity().String(),
		rec.CVSSScore(),
		rec.CVSSVector(),
		rec.SourceName(),
		rec.SourceURL(),
		rec.PublishedAt(),
		pkgs,
		refs,
	}
}

func scanVulnerability(row pgx.Row) (domvuln.Record, error) {
	var (
		d         domvuln.Draft
		score     *float64
		published *time.Time
	)
	err := row.Scan(
		&d.CVEID, &d.Title, &d.Description, &d.Severity, &score, &d.CVSSVector,
		&d.SourceName, &d.SourceURL, &published, &d.AffectedPackages, &d.References,
	)
	if err != nil {
		return domvuln.Record{}, err
	}
	d.CVSSScore = score
	if published != nil {
		utc := published.UTC()
		d.PublishedAt = &utc
	}
	return domvuln.Reconstruct(d), nil
}
