package stock

import (
	"context"
	"time"
)

// Fetcher retrieves a page, honoring cached validators when it can.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Executor runs fetches for a batch of targets and returns one result per
// target, in target order.
type Executor interface {
	Run(ctx context.Context, targets []Target, fetch func(context.Context, Target) FetchResult) []FetchResult
}

// StateStore persists per-URL state records.
type StateStore interface {
	Load(ctx context.Context) (map[string]StateRecord, error)
	Save(ctx context.Context, records map[string]StateRecord) error
}

// Notifier delivers a restock message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a rendered notification for a single target.
type Message struct {
	Target Target
	Text   string
	SentAt time.Time
}

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
