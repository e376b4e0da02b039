package ghsa

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

const advisories = `[{
  "ghsa_id": "GHSA-jfh8-c2jp-5v3q",
  "cve_id": "CVE-2021-44228",
  "html_url": "https://github.com/advisories/GHSA-jfh8-c2jp-5v3q",
  "summary": "Remote code injection in Log4j",
  "description": "Log4j versions prior to 2.16.0 are subject to a remote code execution vulnerability.",
  "severity": "critical",
  "published_at": "2021-12-10T00:40:56Z",
  "cvss": {"score": 10.0, "vector_string": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H"},
  "references": ["https://nvd.nist.gov/vuln/detail/CVE-2021-44228"],
  "vulnerabilities": [
    {"package": {"ecosystem": "maven", "name": "org.apache.logging.log4j:log4j-core"}}
  ]
}, {
  "ghsa_id": "GHSA-xxxx-yyyy-zzzz",
  "summary": "Advisory without CVE",
  "severity": "moderate"
}]`

func newTestAdapter(t *testing.T, token string, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(Config{BaseURL: srv.URL, Token: token}, srv.Client())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestSearch_AffectsQuery(t *testing.T) {
	var gotAffects, gotAuth string
	a := newTestAdapter(t, "tkn", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/advisories" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotAffects = r.URL.Query().Get("affects")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, advisories)
	})

	items, err := a.Search(context.Background(), "log4j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if gotAffects != "log4j" {
		t.Errorf("expected affects=log4j, got %q", gotAffects)
	}
	if gotAuth != "Bearer tkn" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}

	d, ok := a.Normalize(items[0])
	if !ok {
		t.Fatal("expected ok")
	}
	rec := vulnerability.New(d)
	if rec.CVEID() != "CVE-2021-44228" {
		t.Errorf("unexpected id %s", rec.CVEID())
	}
	if rec.Severity() != vulnerability.Critical {
		t.Errorf("expected CRITICAL, got %s", rec.Severity())
	}
	if diff := cmp.Diff([]string{"maven/org.apache.logging.log4j:log4j-core"}, rec.AffectedPackages()); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}
	if rec.PublishedAt() == nil || rec.CVSSScore() == nil {
		t.Error("expected published date and score")
	}

	d, ok = a.Normalize(items[1])
	if !ok {
		t.Fatal("expected ok for second advisory")
	}
	rec = vulnerability.New(d)
	if rec.CVEID() != "GHSA-XXXX-YYYY-ZZZZ" {
		t.Errorf("expected GHSA id as key, got %s", rec.CVEID())
	}
	if rec.Severity() != vulnerability.Medium {
		t.Errorf("expected moderate to map to MEDIUM, got %s", rec.Severity())
	}
}

func TestSearch_CVEQuery(t *testing.T) {
	var gotCVE string
	a := newTestAdapter(t, "", func(w http.ResponseWriter, r *http.Request) {
		gotCVE = r.URL.Query().Get("cve_id")
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})

	items, err := a.Search(context.Background(), "cve-2021-44228")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
	if gotCVE != "CVE-2021-44228" {
		t.Errorf("expected cve_id filter, got %q", gotCVE)
	}
}

func TestSearch_Error(t *testing.T) {
	a := newTestAdapter(t, "", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if _, err := a.Search(context.Background(), "log4j"); err == nil {
		t.Fatal("expected error")
	}
}
