package allotment

import (
	"context"
	"time"
)

// Catalog reads IPO and registrar metadata from the record store.
type Catalog interface {
	GetIPO(ctx context.Context, slug string) (IPO, error)
	ListLiveIPOs(ctx context.Context) ([]IPO, error)
	GetRegistrar(ctx context.Context, slug string) (RegistrarProfile, error)
	ListRegistrars(ctx context.Context) ([]RegistrarProfile, error)
}

// CheckLog persists anonymized check outcomes.
type CheckLog interface {
	RecordCheck(ctx context.Context, record CheckRecord) error
	Summarize(ctx context.Context, since time.Time) (CheckSummary, error)
}

// Publisher pushes anonymized check events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event CheckEvent) (string, error)
}

// Fetcher fetches a registrar URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// StatusFetcher runs one bounded registrar lookup.
type StatusFetcher interface {
	FetchAllotmentStatus(ctx context.Context, registrar RegistrarProfile, params CheckParams) Outcome
}

// Governor admits or denies requests per client identifier.
type Governor interface {
	Check(ctx context.Context, identifier string) (Decision, error)
}

// Decision is the rate governor verdict for one request.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// ResetSeconds reports ResetIn rounded up to whole seconds.
func (d Decision) ResetSeconds() int {
	if d.ResetIn <= 0 {
		return 0
	}
	secs := int(d.ResetIn / time.Second)
	if d.ResetIn%time.Second != 0 {
		secs++
	}
	return secs
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces check IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
