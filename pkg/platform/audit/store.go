package audit

import (
	"context"

	id "willvault/pkg/domain"
)

// Store persists audit events. Append must be idempotent on Event.ID so
// replays from the event stream do not duplicate rows.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByWill(ctx context.Context, willID id.WillID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink forwards persisted events to an external transport.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
