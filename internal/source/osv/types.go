package osv

import (
	"strconv"
	"strings"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

type pkg struct {
	Ecosystem string `json:"ecosystem,omitempty"`
	Name      string `json:"name,omitempty"`
}

type severity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type affected struct {
	Package pkg `json:"package"`
}

type reference struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type vuln struct {
	ID               string      `json:"id"`
	Summary          string      `json:"summary"`
	Details          string      `json:"details"`
	Aliases          []string    `json:"aliases"`
	Published        string      `json:"published"`
	Severity         []severity  `json:"severity"`
	Affected         []affected  `json:"affected"`
	References       []reference `json:"references"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

// cveID prefers a CVE alias, then a CVE-shaped ID, then the OSV ID itself.
func (v vuln) cveID() string {
	for _, alias := range v.Aliases {
		if vulnerability.IsCVE(alias) {
			return strings.ToUpper(strings.TrimSpace(alias))
		}
	}
	return v.ID
}

// cvss returns the first CVSS entry, as a numeric score when OSV carries one
// and as a vector string otherwise.
func (v vuln) cvss() (*float64, string) {
	for _, s := range v.Severity {
		if !strings.HasPrefix(s.Type, "CVSS_") || s.Score == "" {
			continue
		}
		if f, err := strconv.ParseFloat(s.Score, 64); err == nil {
			return &f, ""
		}
		if strings.HasPrefix(s.Score, "CVSS:") {
			return nil, s.Score
		}
	}
	return nil, ""
}

func (v vuln) packages() []string {
	out := make([]string, 0, len(v.Affected))
	for _, a := range v.Affected {
		if a.Package.Name == "" {
			continue
		}
		out = append(out, a.Package.Ecosystem+"/"+a.Package.Name)
	}
	return out
}

func (v vuln) referenceURLs() []string {
	out := make([]string, 0, len(v.References))
	for _, r := range v.References {
		if r.URL != "" {
			out = append(out, r.URL)
		}
	}
	return out
}
