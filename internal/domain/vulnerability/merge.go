package vulnerability

import "time"

// Merge folds incoming into existing. A non-empty incoming field overwrites the
// stored one; an empty incoming field never blanks stored data.
// The stored CVE ID is kept: it is the storage key. A defaulted incoming
// severity does not replace the stored one.
func Merge(existing, incoming Record) Record {
	out := existing
	out.affectedPackages = cloneStrings(existing.affectedPackages)
	out.references = cloneStrings(existing.references)

	if incoming.title != "" {
		out.title = incoming.title
	}
	if incoming.description != "" {
		out.description = incoming.description
	}
	if incoming.severityAssessed && incoming.severity != "" {
		out.severity = incoming.severity
		out.severityAssessed = true
	}
	if incoming.cvssScore != nil {
		out.cvssScore = validScore(incoming.cvssScore)
	}
	if incoming.cvssVector != "" {
		out.cvssVector = incoming.cvssVector
	}
	if incoming.sourceName != "" {
		out.sourceName = incoming.sourceName
	}
	if incoming.sourceURL != "" {
		out.sourceURL = incoming.sourceURL
	}
	if incoming.publishedAt != nil {
		out.publishedAt = cloneTime(incoming.publishedAt)
	}
	if len(incoming.affectedPackages) > 0 {
		out.affectedPackages = cloneStrings(incoming.affectedPackages)
	}
	if len(incoming.references) > 0 {
		out.references = cloneStrings(incoming.references)
	}
	return out
}

// APIRecord is the response shape of a record: shorter description, at most
// APIPackageLimit packages.
type APIRecord struct {
	CVEID            string   `json:"cve_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Severity         Severity `json:"severity"`
	CVSSScore        *float64 `json:"cvss_score"`
	CVSSVector       string   `json:"cvss_vector,omitempty"`
	Source           string   `json:"source"`
	SourceURL        string   `json:"source_url"`
	PublishedDate    string   `json:"published_date"`
	AffectedPackages []string `json:"affected_packages"`
}

// APIView renders the record for API responses.
func (r Record) APIView() APIRecord {
	return r.view(APIDescriptionLimit, time.RFC3339)
}

// ListView renders the record for stored-record listings: shorter description,
// date-only publication.
func (r Record) ListView() APIRecord {
	return r.view(ListDescriptionLimit, time.DateOnly)
}

func (r Record) view(descLimit int, dateLayout string) APIRecord {
	pkgs := r.affectedPackages
	if len(pkgs) > APIPackageLimit {
		pkgs = pkgs[:APIPackageLimit]
	}
	published := ""
	if r.publishedAt != nil {
		published = r.publishedAt.UTC().Format(dateLayout)
	}
	return APIRecord{
		CVEID:            r.cveID,
		Title:            r.title,
		Description:      Truncate(r.description, descLimit),
		Severity:         r.severity,
		CVSSScore:        r.cvssScore,
		CVSSVector:       r.cvssVector,
		Source:           r.sourceName,
		SourceURL:        r.sourceURL,
		PublishedDate:    published,
		AffectedPackages: cloneStrings(pkgs),
	}
}
