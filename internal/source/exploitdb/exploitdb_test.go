package exploitdb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
)

const results = `<html><body>
<div class="exploit-list">
  <div class="exploit-item">
    <div class="exploit-title"><a href="/exploits/50592">Apache Log4j 2 - Remote Code Execution (RCE)</a></div>
    <div class="exploit-description">Exploits CVE-2021-44228 via JNDI.</div>
    <div class="exploit-date">2021-12-14</div>
  </div>
  <div class="exploit-item">
    <div class="exploit-title"><a href="https://www.exploit-db.com/exploits/50590">Log4Shell CVE-2021-45046 variant</a></div>
  </div>
  <div class="exploit-item"><div class="exploit-title">no anchor</div></div>
</div>
</body></html>`

func TestSearchAndNormalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "log4j" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, results)
	}))
	defer srv.Close()

	a := New(Config{SearchURL: srv.URL + "/search"}, fetch.New(fetch.Config{}))
	items, err := a.Search(context.Background(), "log4j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0]["cve_id"] != "CVE-2021-44228" {
		t.Errorf("expected CVE from description, got %v", items[0]["cve_id"])
	}
	if items[1]["cve_id"] != "CVE-2021-45046" {
		t.Errorf("expected CVE from title, got %v", items[1]["cve_id"])
	}
	if items[0]["source_url"] != srv.URL+"/exploits/50592" {
		t.Errorf("unexpected url %v", items[0]["source_url"])
	}

	d, ok := a.Normalize(items[0])
	if !ok {
		t.Fatal("expected ok")
	}
	rec := vulnerability.New(d)
	if rec.Severity() != vulnerability.High {
		t.Errorf("expected HIGH, got %s", rec.Severity())
	}
	if rec.Description() != "Exploit found for: Apache Log4j 2 - Remote Code Execution (RCE)" {
		t.Errorf("unexpected description %q", rec.Description())
	}
	want := time.Date(2021, 12, 14, 0, 0, 0, 0, time.UTC)
	if rec.PublishedAt() == nil || !rec.PublishedAt().Equal(want) {
		t.Errorf("unexpected published date %v", rec.PublishedAt())
	}
}

func TestSearch_MaxItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, results)
	}))
	defer srv.Close()

	a := New(Config{SearchURL: srv.URL, MaxItems: 1}, fetch.New(fetch.Config{}))
	items, err := a.Search(context.Background(), "log4j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 item, got %d", len(items))
	}
}
