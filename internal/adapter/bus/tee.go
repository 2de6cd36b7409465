package bus

import (
	"context"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

// Tee publishes to a primary publisher and mirrors every successfully
// published message to observers. Observer errors are ignored.
type Tee struct {
	primary   domain.Publisher
	observers []domain.Publisher
}

func NewTee(primary domain.Publisher, observers ...domain.Publisher) *Tee {
	return &Tee{primary: primary, observers: observers}
}

func (t *Tee) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	if err := t.primary.Publish(ctx, msg); err != nil {
		return err
	}
	for _, o := range t.observers {
		_ = o.Publish(ctx, msg)
	}
	return nil
}
