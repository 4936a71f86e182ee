// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"errors"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing terminal events
// synchronously to the invocation store.
type Publisher struct {
	store ports.InvocationStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.InvocationStore) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("invocation store required")
	}

	return &Publisher{
		store: store,
	}, nil
}

// Publish stores the record of a completed or failed invocation. Started
// events carry no outcome and are not stored.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event.Type == domain.LifecycleEventStarted {
		return nil
	}
	return p.store.SaveInvocation(ctx, domain.RecordFromEvent(event))
}

// Close is a no-op; the store is closed by its owner.
func (p *Publisher) Close() error {
	return nil
}
