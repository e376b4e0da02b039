package vulnerability

import (
	"math"
	"strings"
	"time"
)

// Draft is the mutable input adapters assemble before normalization.
type Draft struct {
	CVEID            string
	Title            string
	Description      string
	Severity         string
	CVSSScore        *float64
	CVSSVector       string
	SourceName       string
	SourceURL        string
	PublishedAt      *time.Time
	AffectedPackages []string
	References       []string
	// FallbackKey seeds the synthetic ID when both CVEID and Title are empty.
	FallbackKey string
}

// Record is the canonical vulnerability (immutable value object).
type Record struct {
	cveID            string
	title            string
	description      string
	severity         Severity
	cvssScore        *float64
	cvssVector       string
	sourceName       string
	sourceURL        string
	publishedAt      *time.Time
	affectedPackages []string
	references       []string
	// severityAssessed is false when severity fell back to the MEDIUM default.
	severityAssessed bool
}

// BySource maps a source name to the records it produced in one run.
type BySource map[string][]Record

// Total returns the number of records across all sources.
func (b BySource) Total() int {
	n := 0
	for _, recs := range b {
		n += len(recs)
	}
	return n
}

// Counts returns the per-source record count.
func (b BySource) Counts() map[string]int {
	out := make(map[string]int, len(b))
	for name, recs := range b {
		out[name] = len(recs)
	}
	return out
}

// New normalizes a draft into a record.
// CVE ID is never empty, severity is always one of the four buckets,
// description is bounded by StorageDescriptionLimit.
func New(d Draft) Record {
	cveID := strings.ToUpper(strings.TrimSpace(d.CVEID))
	title := strings.TrimSpace(d.Title)
	if cveID == "" {
		key := title
		if key == "" {
			key = d.FallbackKey
		}
		if key == "" {
			key = d.Description
		}
		cveID = SyntheticID(d.SourceName, key)
	}

	score := validScore(d.CVSSScore)

	return Record{
		cveID:            cveID,
		title:            title,
		description:      Truncate(strings.TrimSpace(d.Description), StorageDescriptionLimit),
		severity:         Resolve(d.Severity, score),
		cvssScore:        score,
		cvssVector:       strings.TrimSpace(d.CVSSVector),
		sourceName:       d.SourceName,
		sourceURL:        strings.TrimSpace(d.SourceURL),
		publishedAt:      cloneTime(d.PublishedAt),
		affectedPackages: cloneStrings(d.AffectedPackages),
		references:       cloneStrings(d.References),
		severityAssessed: assessed(d.Severity, score),
	}
}

// Reconstruct creates a Record without normalization (storage hydration).
func Reconstruct(d Draft) Record {
	sev, ok := ParseSeverity(d.Severity)
	if !ok {
		sev = Medium
	}
	return Record{
		cveID:            d.CVEID,
		title:            d.Title,
		description:      d.Description,
		severity:         sev,
		cvssScore:        d.CVSSScore,
		cvssVector:       d.CVSSVector,
		sourceName:       d.SourceName,
		sourceURL:        d.SourceURL,
		publishedAt:      d.PublishedAt,
		affectedPackages: cloneStrings(d.AffectedPackages),
		references:       cloneStrings(d.References),
		severityAssessed: true,
	}
}

// CVEID returns the CVE or synthesized identifier.
func (r Record) CVEID() string { return r.cveID }

// Title returns the record title.
func (r Record) Title() string { return r.title }

// Description returns the bounded description.
func (r Record) Description() string { return r.description }

// Severity returns the severity bucket.
func (r Record) Severity() Severity { return r.severity }

// SeverityAssessed reports whether the severity came from a label or a score
// rather than the MEDIUM default.
func (r Record) SeverityAssessed() bool { return r.severityAssessed }

// CVSSScore returns the CVSS base score, nil when unknown.
func (r Record) CVSSScore() *float64 { return r.cvssScore }

// CVSSVector returns the CVSS vector string.
func (r Record) CVSSVector() string { return r.cvssVector }

// SourceName returns the name of the source that produced the record.
func (r Record) SourceName() string { return r.sourceName }

// SourceURL returns the upstream URL of the record.
func (r Record) SourceURL() string { return r.sourceURL }

// PublishedAt returns the publication timestamp, nil when unknown.
func (r Record) PublishedAt() *time.Time { return r.publishedAt }

// AffectedPackages returns "ecosystem/name" entries in source order.
func (r Record) AffectedPackages() []string { return cloneStrings(r.affectedPackages) }

// References returns reference URLs in source order.
func (r Record) References() []string { return cloneStrings(r.references) }

// Draft returns the record as an editable draft. A defaulted severity is left
// empty so New defaults it again.
func (r Record) Draft() Draft {
	sev := string(r.severity)
	if !r.severityAssessed {
		sev = ""
	}
	return Draft{
		CVEID:            r.cveID,
		Title:            r.title,
		Description:      r.description,
		Severity:         sev,
		CVSSScore:        r.cvssScore,
		CVSSVector:       r.cvssVector,
		SourceName:       r.sourceName,
		SourceURL:        r.sourceURL,
		PublishedAt:      r.publishedAt,
		AffectedPackages: cloneStrings(r.affectedPackages),
		References:       cloneStrings(r.references),
	}
}

func validScore(score *float64) *float64 {
	if score == nil || math.IsNaN(*score) || math.IsInf(*score, 0) || *score < 0 || *score > 10 {
		return nil
	}
	v := *score
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
