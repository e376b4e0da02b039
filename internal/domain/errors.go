package domain

import (
	"errors"
	"fmt"
)

// KeyPrefix namespaces every key the service writes to a shared store.
const KeyPrefix = "vulnharvest:"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidQuery signals a search query that cannot be executed.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrAlreadyFinalized signals a second attempt to close an audit record.
	ErrAlreadyFinalized = errors.New("audit record already finalized")
	// ErrDuplicateSource signals two adapters registered under the same name.
	ErrDuplicateSource = errors.New("duplicate source")
	// ErrSourceTimeout signals an adapter that did not answer within its deadline.
	ErrSourceTimeout = errors.New("source timed out")
)

// SourcePanicError wraps a recovered panic raised inside a source adapter.
type SourcePanicError struct {
	Source string
	Value  any
}

func (e *SourcePanicError) Error() string {
	return fmt.Sprintf("source %s panicked: %v", e.Source, e.Value)
}
