package domain

import "context"

// GeofenceReader resolves a geofence code to its metadata.
// Implementations return ErrGeofenceNotFound for unknown codes.
type GeofenceReader interface {
	GetByCode(ctx context.Context, code string) (*Geofence, error)
}

// GeofenceRepository is the document store holding geofence definitions.
type GeofenceRepository interface {
	GeofenceReader

	// List returns every stored geofence.
	List(ctx context.Context) ([]Geofence, error)

	// Save inserts or replaces the geofence stored under code.
	Save(ctx context.Context, code string, fence Geofence) error

	// SaveAll inserts or replaces every fence under its properties id, all
	// or nothing.
	SaveAll(ctx context.Context, fences []Geofence) error

	// Update reads the geofence stored under code, passes it to apply and
	// stores the result. Returns ErrGeofenceNotFound for unknown codes.
	Update(ctx context.Context, code string, apply func(Geofence) (Geofence, error)) error

	// Delete removes the geofence stored under code.
	Delete(ctx context.Context, code string) error

	Close() error
}

// Publisher delivers enriched messages onto the event topic.
type Publisher interface {
	Publish(ctx context.Context, msg EnrichedMessage) error
}

// MessageHandler is invoked for every enriched message received from the bus.
type MessageHandler func(ctx context.Context, msg EnrichedMessage) error

// Bus is a message bus connection able to publish and subscribe on the event topic.
type Bus interface {
	Publisher

	// Subscribe blocks, delivering messages to handler until ctx is cancelled.
	Subscribe(ctx context.Context, handler MessageHandler) error

	Close() error
}
