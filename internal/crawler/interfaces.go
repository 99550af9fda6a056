package crawler

import (
	"context"
	"time"
)

// Transport performs a single GET and classifies it. It never retries.
type Transport interface {
	Get(ctx context.Context, url string) FetchOutcome
}

// Fetcher returns a page body after applying retry and throttle policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchOutcome
}

// RecordSink materializes validated records.
type RecordSink interface {
	Write(record ClinicRecord) error
	Close() error
}

// SnapshotStore archives raw page bodies.
type SnapshotStore interface {
	Save(ctx context.Context, url string, body []byte) (string, error)
}

// Waiter blocks until another request may start.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Jitter draws a duration uniformly from [lo, hi].
type Jitter interface {
	Between(lo, hi time.Duration) time.Duration
}
