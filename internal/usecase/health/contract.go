package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// SourceCounter reports how many source adapters are registered.
type SourceCounter interface {
	Len() int
}
