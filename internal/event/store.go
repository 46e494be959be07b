package event

import "context"

// Store retrieves persisted events. Events are written inside store
// transactions alongside the state they describe.
type Store interface {
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}
