package vulnerability

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Description bounds. Storage keeps more context than API responses.
const (
	StorageDescriptionLimit = 500
	APIDescriptionLimit     = 300
	ListDescriptionLimit    = 200
	APIPackageLimit         = 3
)

// Ellipsis marks a truncated description.
const Ellipsis = "..."

var (
	cvePattern      = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)
	cveExactPattern = regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)
	sourceSanitizer = regexp.MustCompile(`[^A-Z0-9]+`)
)

// Truncate cuts s to limit runes and appends Ellipsis when anything was removed.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + Ellipsis
}

// FindCVE returns the first CVE identifier found in text, upper-cased.
func FindCVE(text string) string {
	return strings.ToUpper(cvePattern.FindString(text))
}

// IsCVE reports whether s is exactly one CVE identifier.
func IsCVE(s string) bool {
	return cveExactPattern.MatchString(strings.TrimSpace(s))
}

// SyntheticID derives a stable identifier for records without a CVE.
// The same source and key always produce the same ID.
func SyntheticID(source, key string) string {
	prefix := strings.Trim(sourceSanitizer.ReplaceAllString(strings.ToUpper(source), "_"), "_")
	if prefix == "" {
		prefix = "SRC"
	}
	sum := sha256.Sum256([]byte(source + "\x00" + key))
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(sum[:6]))
}
