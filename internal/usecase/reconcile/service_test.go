package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

// --- Mocks ---

// memStore keeps records keyed by CVE ID, ordered by insertion.
type memStore struct {
	rows      map[string]vulnerability.Record
	order     []string
	insertErr func(rec vulnerability.Record) error
	findErr   error
	updates   int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]vulnerability.Record)}
}

func (m *memStore) FindByCVEIDOrTitle(_ context.Context, cveID, title string) (vulnerability.Record, error) {
	if m.findErr != nil {
		return vulnerability.Record{}, m.findErr
	}
	if rec, ok := m.rows[cveID]; ok {
		return rec, nil
	}
	if title != "" {
		for _, id := range m.order {
			if m.rows[id].Title() == title {
				return m.rows[id], nil
			}
		}
	}
	return vulnerability.Record{}, domain.ErrNotFound
}

func (m *memStore) Insert(_ context.Context, rec vulnerability.Record) error {
	if m.insertErr != nil {
		if err := m.insertErr(rec); err != nil {
			return err
		}
	}
	if _, ok := m.rows[rec.CVEID()]; ok {
		return domain.ErrAlreadyExists
	}
	m.rows[rec.CVEID()] = rec
	m.order = append(m.order, rec.CVEID())
	return nil
}

func (m *memStore) UpdateMerged(_ context.Context, existing, incoming vulnerability.Record) error {
	m.updates++
	m.rows[existing.CVEID()] = vulnerability.Merge(existing, incoming)
	return nil
}

func rec(d vulnerability.Draft) vulnerability.Record { return vulnerability.New(d) }

func score(v float64) *float64 { return &v }

// --- Tests ---

func TestPersist_InsertsThenUpdatesIdempotently(t *testing.T) {
	store := newMemStore()
	r := New(store, zap.NewNop())
	batch := vulnerability.BySource{
		"OSV": {
			rec(vulnerability.Draft{CVEID: "CVE-2021-44228", Title: "Log4Shell", SourceName: "OSV"}),
			rec(vulnerability.Draft{CVEID: "CVE-2021-45046", Title: "Log4j follow-up", SourceName: "OSV"}),
		},
		"NVD": {rec(vulnerability.Draft{CVEID: "CVE-2021-45105", Title: "Log4j DoS", SourceName: "NVD"})},
	}

	first := r.Persist(context.Background(), batch)
	if first != (Summary{Inserted: 3}) {
		t.Fatalf("first run: unexpected summary %+v", first)
	}
	snapshot := make(map[string]vulnerability.APIRecord)
	for id, row := range store.rows {
		snapshot[id] = row.APIView()
	}

	second := r.Persist(context.Background(), batch)
	if second != (Summary{Updated: 3}) {
		t.Fatalf("second run: unexpected summary %+v", second)
	}
	if len(store.rows) != 3 {
		t.Errorf("expected 3 rows after two runs, got %d", len(store.rows))
	}
	for id, row := range store.rows {
		if diff := cmp.Diff(snapshot[id], row.APIView()); diff != "" {
			t.Errorf("row %s changed on identical rerun (-before +after):\n%s", id, diff)
		}
	}
	if first.Saved() != 3 || second.Saved() != 3 {
		t.Errorf("unexpected saved counts %d, %d", first.Saved(), second.Saved())
	}
}

func TestPersist_SortedSourceOrder(t *testing.T) {
	store := newMemStore()
	r := New(store, nil)
	r.Persist(context.Background(), vulnerability.BySource{
		"SNYK": {rec(vulnerability.Draft{CVEID: "CVE-2024-0003", SourceName: "SNYK"})},
		"NVD":  {rec(vulnerability.Draft{CVEID: "CVE-2024-0002", SourceName: "NVD"})},
		"EXPLOIT_DB": {
			rec(vulnerability.Draft{CVEID: "CVE-2024-0001", SourceName: "EXPLOIT_DB"}),
			rec(vulnerability.Draft{CVEID: "CVE-2024-0000", SourceName: "EXPLOIT_DB"}),
		},
	})
	want := []string{"CVE-2024-0001", "CVE-2024-0000", "CVE-2024-0002", "CVE-2024-0003"}
	if diff := cmp.Diff(want, store.order); diff != "" {
		t.Errorf("insert order mismatch (-want +got):\n%s", diff)
	}
}

func TestPersist_MergeNeverBlanks(t *testing.T) {
	store := newMemStore()
	r := New(store, nil)
	ctx := context.Background()

	r.Persist(ctx, vulnerability.BySource{"NVD": {rec(vulnerability.Draft{
		CVEID:       "CVE-2021-44228",
		Title:       "Log4Shell",
		Description: "JNDI lookup RCE",
		CVSSScore:   score(10),
		CVSSVector:  "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H",
		SourceName:  "NVD",
		References:  []string{"https://nvd.nist.gov/vuln/detail/CVE-2021-44228"},
	})}})
	r.Persist(ctx, vulnerability.BySource{"OSV": {rec(vulnerability.Draft{
		CVEID:            "CVE-2021-44228",
		Severity:         "CRITICAL",
		SourceName:       "OSV",
		AffectedPackages: []string{"Maven/org.apache.logging.log4j:log4j-core"},
	})}})

	got := store.rows["CVE-2021-44228"]
	if got.Title() != "Log4Shell" || got.Description() != "JNDI lookup RCE" {
		t.Errorf("empty incoming fields blanked stored text: %q / %q", got.Title(), got.Description())
	}
	if got.CVSSScore() == nil || *got.CVSSScore() != 10 || got.CVSSVector() == "" {
		t.Error("empty incoming CVSS blanked stored score")
	}
	if len(got.References()) != 1 {
		t.Errorf("expected stored references kept, got %v", got.References())
	}
	if diff := cmp.Diff([]string{"Maven/org.apache.logging.log4j:log4j-core"}, got.AffectedPackages()); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}
	if got.SourceName() != "OSV" {
		t.Errorf("expected non-empty incoming source to overwrite, got %s", got.SourceName())
	}
}

func TestPersist_TitleMatchKeepsStoredKey(t *testing.T) {
	store := newMemStore()
	r := New(store, nil)
	ctx := context.Background()

	r.Persist(ctx, vulnerability.BySource{"EXPLOIT_DB": {rec(vulnerability.Draft{
		Title: "Apache Log4j 2 - Remote Code Execution (RCE)", SourceName: "EXPLOIT_DB",
	})}})
	sum := r.Persist(ctx, vulnerability.BySource{"SNYK": {rec(vulnerability.Draft{
		CVEID: "CVE-2021-44228", Title: "Apache Log4j 2 - Remote Code Execution (RCE)", SourceName: "SNYK",
	})}})

	if sum != (Summary{Updated: 1}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected a single row, got %d", len(store.rows))
	}
	for id := range store.rows {
		if id == "CVE-2021-44228" {
			t.Error("title match must keep the stored synthetic key")
		}
	}
}

func TestPersist_FailureIsCountedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newMemStore()
	store.insertErr = func(rec vulnerability.Record) error {
		if rec.CVEID() == "CVE-2024-0001" {
			return errors.New("disk full")
		}
		return nil
	}
	r := New(store, zap.New(core))

	sum := r.Persist(context.Background(), vulnerability.BySource{"NVD": {
		rec(vulnerability.Draft{CVEID: "CVE-2024-0001", SourceName: "NVD"}),
		rec(vulnerability.Draft{CVEID: "CVE-2024-0002", SourceName: "NVD"}),
	}})

	if sum != (Summary{Inserted: 1, Failed: 1}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["cve_id"] != "CVE-2024-0001" {
		t.Errorf("unexpected log context %v", entry.ContextMap())
	}
}

func TestPersist_LookupError(t *testing.T) {
	store := newMemStore()
	store.findErr = errors.New("connection reset")
	sum := New(store, nil).Persist(context.Background(), vulnerability.BySource{"NVD": {
		rec(vulnerability.Draft{CVEID: "CVE-2024-0001", SourceName: "NVD"}),
	}})
	if sum != (Summary{Failed: 1}) {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestPersist_InsertConflictFallsBackToUpdate(t *testing.T) {
	store := newMemStore()
	calls := 0
	// Another writer inserts the same key between lookup and insert.
	store.insertErr = func(rec vulnerability.Record) error {
		calls++
		if calls == 1 {
			store.rows[rec.CVEID()] = rec
			store.order = append(store.order, rec.CVEID())
			return domain.ErrAlreadyExists
		}
		return nil
	}

	sum := New(store, nil).Persist(context.Background(), vulnerability.BySource{"NVD": {
		rec(vulnerability.Draft{CVEID: "CVE-2024-0001", Title: "Race", SourceName: "NVD"}),
	}})
	if sum != (Summary{Updated: 1}) {
		t.Errorf("unexpected summary %+v", sum)
	}
	if store.updates != 1 {
		t.Errorf("expected one merge update, got %d", store.updates)
	}
}
