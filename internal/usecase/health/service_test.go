package health

import (
	"context"
	"errors"
	"testing"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockSources struct {
	n int
}

func (m mockSources) Len() int { return m.n }

// --- Tests ---

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		dbErr    error
		sources  SourceCounter
		want     Status
		database CheckResult
		source   CheckResult
	}{
		{name: "all healthy", sources: mockSources{n: 8}, want: Healthy, database: CheckOK, source: CheckOK},
		{name: "db down", dbErr: errors.New("conn refused"), sources: mockSources{n: 8}, want: Degraded, database: CheckError, source: CheckOK},
		{name: "no adapters", sources: mockSources{}, want: Degraded, database: CheckOK, source: CheckError},
		{name: "everything down", dbErr: errors.New("db down"), sources: mockSources{}, want: Unhealthy, database: CheckError, source: CheckError},
		{name: "sources unchecked", want: Healthy, database: CheckOK},
		{name: "sources unchecked db down", dbErr: errors.New("fail"), want: Unhealthy, database: CheckError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&mockDBPinger{err: tt.dbErr}, tt.sources).Check(context.Background())

			if r.Status != tt.want {
				t.Errorf("expected %q, got %q", tt.want, r.Status)
			}
			if r.Checks["database"] != tt.database {
				t.Errorf("expected database %q, got %q", tt.database, r.Checks["database"])
			}
			got, ok := r.Checks["sources"]
			if tt.sources == nil {
				if ok {
					t.Error("sources check should be absent when no counter is given")
				}
				return
			}
			if got != tt.source {
				t.Errorf("expected sources %q, got %q", tt.source, got)
			}
		})
	}
}
