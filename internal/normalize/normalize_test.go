package normalize

import (
	stdjson "encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source"
)

func TestGeneric_FullItem(t *testing.T) {
	item := source.RawItem{
		"cve_id":            "CVE-2021-44228",
		"title":             "Log4Shell",
		"description":       "JNDI lookup",
		"severity":          "critical",
		"cvss_score":        10.0,
		"link":              "https://example.com/a",
		"published_date":    "2021-12-10T00:00:00Z",
		"affected_packages": []any{"Maven/org.apache.logging.log4j:log4j-core"},
		"references":        []any{"https://logging.apache.org", 42, nil},
	}

	d, ok := Generic("FEED", item)
	if !ok {
		t.Fatal("expected ok")
	}

	score := 10.0
	published := time.Date(2021, 12, 10, 0, 0, 0, 0, time.UTC)
	want := vulnerability.Draft{
		CVEID:            "CVE-2021-44228",
		Title:            "Log4Shell",
		Description:      "JNDI lookup",
		Severity:         "critical",
		CVSSScore:        &score,
		SourceName:       "FEED",
		SourceURL:        "https://example.com/a",
		PublishedAt:      &published,
		AffectedPackages: []string{"Maven/org.apache.logging.log4j:log4j-core"},
		References:       []string{"https://logging.apache.org", "42"},
		FallbackKey:      Serialize(item),
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("draft mismatch (-want +got):\n%s", diff)
	}
}

func TestGeneric_InfersCVEFromAnyField(t *testing.T) {
	d, ok := Generic("FEED", source.RawItem{
		"title": "Advisory",
		"extra": map[string]any{"note": "tracked as cve-2023-4863"},
	})
	if !ok {
		t.Fatal("expected ok")
	}
	if d.CVEID != "CVE-2023-4863" {
		t.Errorf("expected inferred CVE, got %q", d.CVEID)
	}
}

func TestGeneric_SyntheticIDIsStable(t *testing.T) {
	item := source.RawItem{"summary": "no id here", "url": "https://x"}
	a, _ := Generic("NEWS", item)
	b, _ := Generic("NEWS", source.RawItem{"url": "https://x", "summary": "no id here"})
	if a.CVEID != b.CVEID {
		t.Errorf("expected stable synthetic ID, got %s and %s", a.CVEID, b.CVEID)
	}
	if !strings.HasPrefix(a.CVEID, "NEWS-") {
		t.Errorf("unexpected synthetic ID %s", a.CVEID)
	}
	if a.Title != "no id here" {
		t.Errorf("expected summary fallback, got %q", a.Title)
	}
	if a.SourceURL != "https://x" {
		t.Errorf("expected url fallback, got %q", a.SourceURL)
	}
}

func TestGeneric_Placeholders(t *testing.T) {
	d, ok := Generic("SNYK", source.RawItem{"packages": []any{map[string]any{"ecosystem": "npm", "name": "lodash"}}})
	if !ok {
		t.Fatal("expected ok")
	}
	if d.Title != "Vulnerability from SNYK" {
		t.Errorf("unexpected title %q", d.Title)
	}
	if d.Description != descriptionPlaceholder {
		t.Errorf("unexpected description %q", d.Description)
	}
	if diff := cmp.Diff([]string{"npm/lodash"}, d.AffectedPackages); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}

	rec := vulnerability.New(d)
	if rec.Severity() != vulnerability.Medium {
		t.Errorf("expected MEDIUM default, got %s", rec.Severity())
	}
}

func TestGeneric_MistypedValuesNeverFail(t *testing.T) {
	d, ok := Generic("X", source.RawItem{
		"title":          []any{"not", "a", "string"},
		"cvss_score":     "n/a",
		"published_date": "yesterday-ish",
		"severity":       7,
	})
	if !ok {
		t.Fatal("expected ok")
	}
	if d.CVSSScore != nil {
		t.Error("expected nil score")
	}
	if d.PublishedAt != nil {
		t.Error("expected nil date")
	}
	if d.Title != "Vulnerability from X" {
		t.Errorf("expected placeholder title, got %q", d.Title)
	}
}

func TestGeneric_EmptyItem(t *testing.T) {
	if _, ok := Generic("X", source.RawItem{}); ok {
		t.Error("expected empty item to be skipped")
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	inputs := []string{
		"2024-03-05",
		"2024-03-05T00:00:00Z",
		"2024-03-05T00:00:00.000",
		"2024-03-05 00:00:00",
		"Tue, 05 Mar 2024 00:00:00 GMT",
		"Mar 5, 2024",
		"March 5, 2024",
		"5 March 2024",
	}
	for _, in := range inputs {
		got := ParseDate(in)
		if got == nil {
			t.Errorf("ParseDate(%q) = nil", in)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}

	for _, bad := range []any{"", "soon", 12345, nil} {
		if got := ParseDate(bad); got != nil {
			t.Errorf("ParseDate(%v) = %v, want nil", bad, got)
		}
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		in   any
		want *float64
	}{
		{7.5, ptr(7.5)},
		{int64(9), ptr(9)},
		{" 4.3 ", ptr(4.3)},
		{stdjson.Number("9.8"), ptr(9.8)},
		{"high", nil},
		{"NaN", nil},
		{"+Inf", nil},
		{math.Inf(-1), nil},
		{math.NaN(), nil},
		{nil, nil},
	}
	for _, tc := range tests {
		got := Float(tc.in)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Float(%v) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestFindCVE_FirstMatchingText(t *testing.T) {
	if got := FindCVE("nothing", "see CVE-2022-22965 and CVE-2022-22963"); got != "CVE-2022-22965" {
		t.Errorf("got %q", got)
	}
}

func ptr(f float64) *float64 { return &f }
