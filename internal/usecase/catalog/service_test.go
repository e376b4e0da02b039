package catalog

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kailas-cloud/vulnharvest/internal/domain/audit"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

// --- Mocks ---

type mockVulns struct {
	total     int
	searchErr error
	deleteN   int
	deleteErr error
	calls     [][3]any
}

func (m *mockVulns) Search(_ context.Context, text string, offset, limit int) ([]vulnerability.Record, int, error) {
	m.calls = append(m.calls, [3]any{text, offset, limit})
	if m.searchErr != nil {
		return nil, 0, m.searchErr
	}
	end := min(offset+limit, m.total)
	var out []vulnerability.Record
	for i := offset; i < end; i++ {
		out = append(out, vulnerability.New(vulnerability.Draft{Title: "rec"}))
	}
	return out, m.total, nil
}

func (m *mockVulns) DeleteAll(context.Context) (int, error) { return m.deleteN, m.deleteErr }

type mockAudits struct {
	recs      []audit.Record
	lastLimit int
	deleteN   int
	deleteErr error
}

func (m *mockAudits) Recent(_ context.Context, limit int) ([]audit.Record, error) {
	m.lastLimit = limit
	return m.recs, nil
}

func (m *mockAudits) DeleteAll(context.Context) (int, error) { return m.deleteN, m.deleteErr }

// --- Tests ---

func TestSearch_Pagination(t *testing.T) {
	tests := []struct {
		name               string
		total, page, limit int
		wantPage, wantLen  int
		wantPages          int
		wantPrev, wantNext bool
	}{
		{"first page", 45, 1, 20, 1, 20, 3, false, true},
		{"middle page", 45, 2, 20, 2, 20, 3, true, true},
		{"last page", 45, 3, 20, 3, 5, 3, true, false},
		{"page past end clamps", 45, 9, 20, 3, 5, 3, true, false},
		{"page zero clamps", 45, 0, 20, 1, 20, 3, false, true},
		{"default limit", 45, 1, 0, 1, 20, 3, false, true},
		{"limit capped", 450, 1, 1000, 1, 100, 5, false, true},
		{"empty store", 0, 4, 20, 1, 0, 1, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(&mockVulns{total: tc.total}, &mockAudits{}, 0, 0)
			p, err := svc.Search(context.Background(), "log4j", tc.page, tc.limit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Page != tc.wantPage || len(p.Items) != tc.wantLen || p.TotalPages != tc.wantPages {
				t.Errorf("got page=%d len=%d pages=%d", p.Page, len(p.Items), p.TotalPages)
			}
			if p.HasPrevious != tc.wantPrev || p.HasNext != tc.wantNext {
				t.Errorf("got prev=%v next=%v", p.HasPrevious, p.HasNext)
			}
			if p.TotalResults != tc.total || p.Query != "log4j" {
				t.Errorf("unexpected totals %d / %q", p.TotalResults, p.Query)
			}
		})
	}
}

func TestSearch_OffsetPassedToRepository(t *testing.T) {
	repo := &mockVulns{total: 100}
	if _, err := New(repo, &mockAudits{}, 10, 50).Search(context.Background(), "q", 3, 0); err != nil {
		t.Fatal(err)
	}
	if got := repo.calls[0]; got[1] != 20 || got[2] != 10 {
		t.Errorf("expected offset 20 limit 10, got %v", got)
	}
}

func TestSearch_HugePageDoesNotOverflow(t *testing.T) {
	for _, limit := range []int{0, 1, 20, 100} {
		repo := &mockVulns{total: 1}
		p, err := New(repo, &mockAudits{}, 0, 0).Search(context.Background(), "", math.MaxInt, limit)
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}
		for _, c := range repo.calls {
			if off := c[1].(int); off < 0 {
				t.Errorf("limit %d: negative offset %d reached the repository", limit, off)
			}
		}
		if p.Page != 1 || p.TotalPages != 1 || len(p.Items) != 1 {
			t.Errorf("limit %d: got page=%d pages=%d len=%d", limit, p.Page, p.TotalPages, len(p.Items))
		}
	}
}

func TestSearch_Error(t *testing.T) {
	svc := New(&mockVulns{searchErr: errors.New("down")}, &mockAudits{}, 0, 0)
	if _, err := svc.Search(context.Background(), "", 1, 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestRecent(t *testing.T) {
	audits := &mockAudits{recs: []audit.Record{audit.New("id", "log4j", "", "", time.Now())}}
	recs, err := New(&mockVulns{}, audits, 0, 0).Recent(context.Background())
	if err != nil || len(recs) != 1 {
		t.Fatalf("unexpected result %v, %v", recs, err)
	}
	if audits.lastLimit != RecentSearches {
		t.Errorf("expected limit %d, got %d", RecentSearches, audits.lastLimit)
	}
}

func TestWipe(t *testing.T) {
	w, err := New(&mockVulns{deleteN: 7}, &mockAudits{deleteN: 2}, 0, 0).Wipe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != (Wiped{Vulnerabilities: 7, Searches: 2}) {
		t.Errorf("unexpected result %+v", w)
	}
}

func TestWipe_AuditFailure(t *testing.T) {
	w, err := New(&mockVulns{deleteN: 7}, &mockAudits{deleteErr: errors.New("down")}, 0, 0).Wipe(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if w.Vulnerabilities != 7 {
		t.Errorf("expected partial result, got %+v", w)
	}
}
