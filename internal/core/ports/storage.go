package ports

import (
	"context"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// ListOptions contains pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// TraceStore persists terminal RouterProcess traces.
// Failures are reported as StorageUnavailable and never fail a run.
type TraceStore interface {
	SaveProcess(ctx context.Context, p *domain.RouterProcess) error

	// GetProcess fails with a NotFound typed error for unknown ids.
	GetProcess(ctx context.Context, contextID string) (*domain.RouterProcess, error)

	// ListProcesses returns summaries, newest first.
	ListProcesses(ctx context.Context, opts ListOptions) ([]domain.ProcessSummary, error)

	Close() error
}

// EventStore records run lifecycle events.
type EventStore interface {
	AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error
	ListLifecycleEvents(ctx context.Context, contextID string) ([]*domain.LifecycleEvent, error)
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), Badger, memory.
type StorageProvider interface {
	TraceStore
	EventStore
}
