package vulnerability

import "strings"

// Matches reports whether q occurs, case-insensitively, in the title,
// description, CVE ID or any affected package. An empty q matches everything.
func (r Record) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.title), q) ||
		strings.Contains(strings.ToLower(r.description), q) ||
		strings.Contains(strings.ToLower(r.cveID), q) {
		return true
	}
	for _, p := range r.affectedPackages {
		if strings.Contains(strings.ToLower(p), q) {
			return true
		}
	}
	return false
}

// ListLess orders listings: newest publication first, then highest CVSS.
// Unknown dates and scores sort last; ties break on CVE ID.
func ListLess(a, b Record) bool {
	switch {
	case a.publishedAt != nil && b.publishedAt == nil:
		return true
	case a.publishedAt == nil && b.publishedAt != nil:
		return false
	case a.publishedAt != nil && !a.publishedAt.Equal(*b.publishedAt):
		return a.publishedAt.After(*b.publishedAt)
	}
	switch {
	case a.cvssScore != nil && b.cvssScore == nil:
		return true
	case a.cvssScore == nil && b.cvssScore != nil:
		return false
	case a.cvssScore != nil && *a.cvssScore != *b.cvssScore:
		return *a.cvssScore > *b.cvssScore
	}
	return a.cveID < b.cveID
}
