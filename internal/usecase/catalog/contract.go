package catalog

import (
	"context"

	"github.com/kailas-cloud/vulnharvest/internal/domain/audit"
	"github.com/kailas-cloud/vulnharvest/internal/domain/vulnerability"
)

// VulnerabilityRepository reads and wipes stored records.
type VulnerabilityRepository interface {
	// Search returns one page of records matching text (vulnerability.Record.Matches)
	// in vulnerability.ListLess order, plus the total number of matches.
	Search(ctx context.Context, text string, offset, limit int) ([]vulnerability.Record, int, error)
	DeleteAll(ctx context.Context) (int, error)
}

// AuditRepository reads and wipes search audit records.
type AuditRepository interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
	DeleteAll(ctx context.Context) (int, error)
}
