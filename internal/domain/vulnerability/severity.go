package vulnerability

import "strings"

// Severity is the normalized severity bucket of a record.
type Severity string

// Severity values. Every normalized record carries exactly one of these.
const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
)

// CVSS thresholds for score-derived severity.
const (
	criticalThreshold = 9.0
	highThreshold     = 7.0
	mediumThreshold   = 4.0
)

// FromScore derives the severity bucket from a CVSS base score.
func FromScore(score float64) Severity {
	switch {
	case score >= criticalThreshold:
		return Critical
	case score >= highThreshold:
		return High
	case score >= mediumThreshold:
		return Medium
	default:
		return Low
	}
}

// ParseSeverity validates a free-form severity label case-insensitively.
// Accepts "moderate" as MEDIUM.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return Critical, true
	case "HIGH":
		return High, true
	case "MEDIUM", "MODERATE":
		return Medium, true
	case "LOW":
		return Low, true
	default:
		return "", false
	}
}

// Resolve picks the explicit label when valid, then the score-derived bucket, then MEDIUM.
func Resolve(explicit string, score *float64) Severity {
	if s, ok := ParseSeverity(explicit); ok {
		return s
	}
	if score != nil {
		return FromScore(*score)
	}
	return Medium
}

func assessed(explicit string, score *float64) bool {
	_, ok := ParseSeverity(explicit)
	return ok || score != nil
}

// Rank orders severities for sorting (Low=1, Critical=4).
func (s Severity) Rank() int {
	switch s {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	case Critical:
		return 4
	default:
		return 0
	}
}

func (s Severity) String() string { return string(s) }
