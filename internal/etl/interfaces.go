package etl

import (
	"context"
	"time"
)

// Fetcher retrieves the raw markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor turns markup into raw table rows.
type Extractor interface {
	Extract(html string) ([]RawRecord, error)
}

// Transformer normalizes raw rows into typed records.
type Transformer interface {
	Transform(raw []RawRecord) (Dataset, error)
}

// Sink persists a full dataset. A returned error fails the load phase; there
// is no partial-success reporting.
type Sink interface {
	Name() string
	Persist(ctx context.Context, ds Dataset) error
	Close() error
}

// Journal receives phase-boundary checkpoints.
type Journal interface {
	Checkpoint(ts time.Time, message string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Recorder observes run metrics.
type Recorder interface {
	ObservePhase(phase Phase, d time.Duration)
	ObserveRun(result string, loaded int, finishedAt time.Time)
}

// Notifier publishes a run summary to downstream consumers.
type Notifier interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
