// Package events publishes permission-core domain events to EventStoreDB.
// Consumers (notification delivery, admin UIs) subscribe instead of polling;
// the accountant rejection hook in particular is push-based.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/praxia-health/platform/internal/shared/types"
)

// Event types published by this core.
const (
	TypeUserMigrated      = "permissions.user.migrated"
	TypeUserRetired       = "permissions.user.retired"
	TypeRequestApproved   = "permissions.accountant.request.approved"
	TypeRequestRejected   = "permissions.accountant.request.rejected"
	TypeSharingUpdated    = "permissions.sharing.updated"
	TypePermissionChanged = "permissions.level.permission.changed"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Actor information
	ActorID  types.ID `json:"actor_id"`
	ActorOrg types.ID `json:"actor_org,omitempty"`

	// Event data
	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID, actorOrg types.ID) Event {
	e.ActorID = actorID
	e.ActorOrg = actorOrg
	return e
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NopBus is used when the event store is disabled; publishes are dropped.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error                     { return nil }
func (NopBus) Subscribe(context.Context, string, string, Handler) error { return nil }
func (NopBus) Close()                                                   {}
func (NopBus) Health() error                                            { return nil }

var _ EventBus = NopBus{}
