package snyk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
)

const searchPage = `<html><body>
<div class="vue--card">
  <h4>Remote Code Execution (RCE)</h4>
  <a href="/vuln/SNYK-JAVA-ORGAPACHELOGGINGLOG4J-2314720">details CVE-2021-44228</a>
  <span class="vue--badge severity-critical">C critical</span>
</div>
<div class="vuln-card">
  <h3>Prototype Pollution</h3>
  <a href="https://security.snyk.io/vuln/SNYK-JS-LODASH-567746">lodash</a>
  <span class="risk-label">High</span>
</div>
<div class="search-result-item"><h3>No link here</h3></div>
</body></html>`

func TestSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, searchPage)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL}, fetch.New(fetch.Config{}))
	items, err := a.Search(context.Background(), "log4j core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "page=1&q=log4j+core" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 cards with links, got %d", len(items))
	}

	first := items[0]
	if first["title"] != "Remote Code Execution (RCE)" {
		t.Errorf("unexpected title %v", first["title"])
	}
	if first["cve_id"] != "" {
		t.Errorf("href has no CVE, title has none: got %v", first["cve_id"])
	}
	if first["severity"] != "CRITICAL" {
		t.Errorf("expected CRITICAL, got %v", first["severity"])
	}
	if !strings.HasPrefix(first["source_url"].(string), srv.URL+"/vuln/") {
		t.Errorf("expected resolved href, got %v", first["source_url"])
	}
	if items[1]["severity"] != "HIGH" {
		t.Errorf("expected HIGH, got %v", items[1]["severity"])
	}
}

func TestNormalize(t *testing.T) {
	a := New(Config{}, nil)

	d, ok := a.Normalize(source.RawItem{"title": "Prototype Pollution", "severity": "HIGH", "cve_id": ""})
	if !ok {
		t.Fatal("expected ok")
	}
	rec := vulnerability.New(d)
	if !strings.HasPrefix(rec.CVEID(), "SNYK-") {
		t.Errorf("expected synthetic SNYK id, got %s", rec.CVEID())
	}
	if rec.Description() != "Vulnerability found on Snyk: Prototype Pollution" {
		t.Errorf("unexpected description %q", rec.Description())
	}
	if rec.Severity() != vulnerability.High {
		t.Errorf("expected HIGH, got %s", rec.Severity())
	}

	again, _ := a.Normalize(source.RawItem{"title": "Prototype Pollution"})
	if vulnerability.New(again).CVEID() != rec.CVEID() {
		t.Error("synthetic id must be stable across runs")
	}

	if _, ok := a.Normalize(source.RawItem{"severity": "LOW"}); ok {
		t.Error("expected skip without title")
	}
}
