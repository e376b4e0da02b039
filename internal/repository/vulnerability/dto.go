package vulnerability

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	domvuln "github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hash field names.
const (
	fieldCVEID      = "cve_id"
	fieldTitle      = "title"
	fieldDesc       = "description"
	fieldSeverity   = "severity"
	fieldCVSSScore  = "cvss_score"
	fieldCVSSVector = "cvss_vector"
	fieldSource     = "source_name"
	fieldSourceURL  = "source_url"
	fieldPublished  = "published_at"
	fieldPackages   = "affected_packages"
	fieldReferences = "references"
)

// buildHashFields flattens a record for HSET. Lists are stored as JSON arrays.
func buildHashFields(rec domvuln.Record) map[string]string {
	m := map[string]string{
		fieldCVEID:      rec.CVEID(),
		fieldTitle:      rec.Title(),
		fieldDesc:       rec.Description(),
		fieldSeverity:   string(rec.Severity()),
		fieldCVSSVector: rec.CVSSVector(),
		fieldSource:     rec.SourceName(),
		fieldSourceURL:  rec.SourceURL(),
		fieldPackages:   encodeList(rec.AffectedPackages()),
		fieldReferences: encodeList(rec.References()),
		fieldCVSSScore:  "",
		fieldPublished:  "",
	}
	if s := rec.CVSSScore(); s != nil {
		m[fieldCVSSScore] = strconv.FormatFloat(*s, 'f', -1, 64)
	}
	if p := rec.PublishedAt(); p != nil {
		m[fieldPublished] = p.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// parseHashFields hydrates a record. Malformed optional fields read as absent.
func parseHashFields(m map[string]string) domvuln.Record {
	d := domvuln.Draft{
		CVEID:            m[fieldCVEID],
		Title:            m[fieldTitle],
		Description:      m[fieldDesc],
		Severity:         m[fieldSeverity],
		CVSSVector:       m[fieldCVSSVector],
		SourceName:       m[fieldSource],
		SourceURL:        m[fieldSourceURL],
		AffectedPackages: decodeList(m[fieldPackages]),
		References:       decodeList(m[fieldReferences]),
	}
	if v, err := strconv.ParseFloat(m[fieldCVSSScore], 64); err == nil {
		d.CVSSScore = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, m[fieldPublished]); err == nil {
		d.PublishedAt = &t
	}
	return domvuln.Reconstruct(d)
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
