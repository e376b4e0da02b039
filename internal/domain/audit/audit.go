// Package audit models the append-only record of one search invocation.
package audit

import (
	"time"

	"github.com/kailas-cloud/vulnharvest/internal/domain"
)

// Record is one search invocation. Caller IP and agent are opaque strings.
type Record struct {
	id          string
	query       string
	callerIP    string
	callerAgent string
	createdAt   time.Time
	resultCount *int
}

// New opens an audit record. The result count stays unset until Finalize.
func New(id, query, callerIP, callerAgent string, createdAt time.Time) Record {
	return Record{
		id:          id,
		query:       query,
		callerIP:    callerIP,
		callerAgent: callerAgent,
		createdAt:   createdAt.UTC(),
	}
}

// Reconstruct creates a Record from storage without validation.
func Reconstruct(id, query, callerIP, callerAgent string, createdAt time.Time, resultCount *int) Record {
	r := New(id, query, callerIP, callerAgent, createdAt)
	if resultCount != nil {
		n := *resultCount
		r.resultCount = &n
	}
	return r
}

// Finalize returns a copy with the result count set.
// Fails with domain.ErrAlreadyFinalized when the count is already present.
func (r Record) Finalize(count int) (Record, error) {
	if r.resultCount != nil {
		return r, domain.ErrAlreadyFinalized
	}
	r.resultCount = &count
	return r, nil
}

// ID returns the search identifier.
func (r Record) ID() string { return r.id }

// Query returns the raw query text.
func (r Record) Query() string { return r.query }

// CallerIP returns the caller address as received.
func (r Record) CallerIP() string { return r.callerIP }

// CallerAgent returns the caller user agent as received.
func (r Record) CallerAgent() string { return r.callerAgent }

// CreatedAt returns the creation time in UTC.
func (r Record) CreatedAt() time.Time { return r.createdAt }

// ResultCount returns the finalized count, nil while the run is in flight.
func (r Record) ResultCount() *int {
	if r.resultCount == nil {
		return nil
	}
	n := *r.resultCount
	return &n
}
