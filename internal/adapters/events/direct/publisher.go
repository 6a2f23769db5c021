// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"fmt"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	store ports.EventStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.EventStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	return &Publisher{store: store}, nil
}

// Publish appends a lifecycle event to the store.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event.ContextID == "" {
		return fmt.Errorf("lifecycle event %s has no context id", event.Type)
	}
	return p.store.AppendLifecycleEvent(ctx, event)
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
