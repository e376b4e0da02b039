package harvest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/metrics"
	"github.com/kailas-cloud/vulnharvest/internal/source"
)

// --- Mocks ---

type stubAdapter struct {
	name   string
	search func(ctx context.Context, q string) ([]source.RawItem, error)
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Search(ctx context.Context, q string) ([]source.RawItem, error) {
	return s.search(ctx, q)
}

type normalizingAdapter struct {
	stubAdapter
	normalize func(item source.RawItem) (vulnerability.Draft, bool)
}

func (n *normalizingAdapter) Normalize(item source.RawItem) (vulnerability.Draft, bool) {
	return n.normalize(item)
}

func returning(items ...source.RawItem) func(context.Context, string) ([]source.RawItem, error) {
	return func(context.Context, string) ([]source.RawItem, error) { return items, nil }
}

func blockUntilDone(ctx context.Context, _ string) ([]source.RawItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func registry(t *testing.T, adapters ...source.Adapter) *source.Registry {
	t.Helper()
	r := source.NewRegistry()
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			t.Fatalf("register %s: %v", a.Name(), err)
		}
	}
	return r
}

func outcomes(name, outcome string) float64 {
	return testutil.ToFloat64(metrics.SourceRequestsTotal.WithLabelValues(name, outcome))
}

// --- Tests ---

func TestRun_Log4jScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := &stubAdapter{name: "A", search: returning(
		source.RawItem{"cve_id": "CVE-2021-44228", "title": "Log4Shell", "cvss_score": 10.0},
		source.RawItem{"title": "Log4j follow-up CVE-2021-45046"},
	)}
	b := &stubAdapter{name: "B", search: func(context.Context, string) ([]source.RawItem, error) {
		return nil, errors.New("connection refused")
	}}
	c := &stubAdapter{name: "C", search: blockUntilDone}

	before := outcomes("C", metrics.OutcomeTimeout)
	e := NewEngine(registry(t, a, b, c), EngineConfig{Timeout: 50 * time.Millisecond}, nil)
	got := e.Run(context.Background(), "log4j")

	if len(got) != 1 {
		t.Fatalf("expected only A in results, got %v", got.Counts())
	}
	recs := got["A"]
	if len(recs) != 2 {
		t.Fatalf("expected 2 records from A, got %d", len(recs))
	}
	if recs[0].Severity() != vulnerability.Critical {
		t.Errorf("expected CRITICAL from cvss 10, got %s", recs[0].Severity())
	}
	if recs[1].CVEID() != "CVE-2021-45046" {
		t.Errorf("expected CVE inferred from title, got %s", recs[1].CVEID())
	}
	for _, r := range recs {
		if r.SourceName() != "A" {
			t.Errorf("expected source A, got %q", r.SourceName())
		}
	}
	if d := outcomes("C", metrics.OutcomeTimeout) - before; d != 1 {
		t.Errorf("expected one timeout outcome for C, got %v", d)
	}
}

func TestRun_SlowSourceIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	// Ignores ctx on purpose: the engine must stop waiting anyway.
	stubborn := &stubAdapter{name: "STUBBORN", search: func(context.Context, string) ([]source.RawItem, error) {
		<-release
		return []source.RawItem{{"title": "too late"}}, nil
	}}
	fast := &stubAdapter{name: "FAST", search: returning(source.RawItem{"title": "on time"})}

	e := NewEngine(registry(t, stubborn, fast), EngineConfig{Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	got := e.Run(context.Background(), "q")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run blocked on the slow source for %v", elapsed)
	}
	if _, ok := got["STUBBORN"]; ok {
		t.Error("abandoned source must not appear")
	}
	if len(got["FAST"]) != 1 {
		t.Errorf("expected FAST result, got %v", got.Counts())
	}

	close(release)
	goleak.VerifyNone(t)
}

func TestRun_PanicIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := &stubAdapter{name: "PANICKY", search: func(context.Context, string) ([]source.RawItem, error) {
		panic("nil map write")
	}}
	ok := &stubAdapter{name: "OK", search: returning(source.RawItem{"cve_id": "CVE-2024-1234"})}

	before := outcomes("PANICKY", metrics.OutcomePanic)
	got := NewEngine(registry(t, boom, ok), EngineConfig{}, nil).Run(context.Background(), "q")

	if len(got) != 1 || len(got["OK"]) != 1 {
		t.Errorf("expected only OK, got %v", got.Counts())
	}
	if d := outcomes("PANICKY", metrics.OutcomePanic) - before; d != 1 {
		t.Errorf("expected one panic outcome, got %v", d)
	}
}

func TestRun_EmptySourcesAreOmitted(t *testing.T) {
	none := &stubAdapter{name: "NONE", search: returning()}
	rejected := &normalizingAdapter{
		stubAdapter: stubAdapter{name: "REJECTED", search: returning(source.RawItem{"x": 1})},
		normalize:   func(source.RawItem) (vulnerability.Draft, bool) { return vulnerability.Draft{}, false },
	}
	blank := &stubAdapter{name: "BLANK", search: returning(source.RawItem{})}

	before := outcomes("NONE", metrics.OutcomeEmpty)
	got := NewEngine(registry(t, none, rejected, blank), EngineConfig{}, nil).Run(context.Background(), "q")
	if len(got) != 0 {
		t.Errorf("expected no sources, got %v", got.Counts())
	}
	if d := outcomes("NONE", metrics.OutcomeEmpty) - before; d != 1 {
		t.Errorf("expected one empty outcome, got %v", d)
	}
}

func TestRun_NormalizePanicSkipsItem(t *testing.T) {
	a := &normalizingAdapter{
		stubAdapter: stubAdapter{name: "SNYK", search: returning(
			source.RawItem{"title": "good"},
			source.RawItem{"title": "bad"},
			source.RawItem{"title": "also good"},
		)},
		normalize: func(item source.RawItem) (vulnerability.Draft, bool) {
			title := item["title"].(string)
			if title == "bad" {
				var m map[string]int
				m["x"] = 1
			}
			return vulnerability.Draft{Title: title}, true
		},
	}

	got := NewEngine(registry(t, a), EngineConfig{}, nil).Run(context.Background(), "q")
	recs := got["SNYK"]
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Title() != "good" || recs[1].Title() != "also good" {
		t.Errorf("unexpected titles %q, %q", recs[0].Title(), recs[1].Title())
	}
	if recs[0].SourceName() != "SNYK" {
		t.Errorf("engine must fill the source name, got %q", recs[0].SourceName())
	}
}

func TestRun_GenericNormalizerFallback(t *testing.T) {
	a := &stubAdapter{name: "GITHUB_SECURITY", search: returning(source.RawItem{
		"link":        "https://github.com/advisories/GHSA-jfh8-c2jp-5v3q",
		"description": "Remote code injection in Log4j",
	})}

	got := NewEngine(registry(t, a), EngineConfig{}, nil).Run(context.Background(), "log4j")
	recs := got["GITHUB_SECURITY"]
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.Title() != "Vulnerability from GITHUB_SECURITY" {
		t.Errorf("unexpected placeholder title %q", r.Title())
	}
	if r.SourceURL() != "https://github.com/advisories/GHSA-jfh8-c2jp-5v3q" {
		t.Errorf("unexpected url %q", r.SourceURL())
	}
	if r.Severity() != vulnerability.Medium {
		t.Errorf("expected MEDIUM default, got %s", r.Severity())
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, peak atomic.Int32
	search := func(context.Context, string) ([]source.RawItem, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return []source.RawItem{{"title": "x"}}, nil
	}

	adapters := make([]source.Adapter, 12)
	for i := range adapters {
		adapters[i] = &stubAdapter{name: string(rune('A' + i)), search: search}
	}

	got := NewEngine(registry(t, adapters...), EngineConfig{MaxWorkers: 3}, nil).Run(context.Background(), "q")
	if len(got) != 12 {
		t.Errorf("expected 12 sources, got %d", len(got))
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("expected at most 3 concurrent searches, saw %d", p)
	}
}

func TestRun_ParentCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &stubAdapter{name: "A", search: blockUntilDone}
	got := NewEngine(registry(t, a), EngineConfig{}, nil).Run(ctx, "q")
	if len(got) != 0 {
		t.Errorf("expected no results, got %v", got.Counts())
	}
}

func TestRun_NoAdapters(t *testing.T) {
	got := NewEngine(source.NewRegistry(), EngineConfig{}, nil).Run(context.Background(), "q")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %v", got)
	}
}
