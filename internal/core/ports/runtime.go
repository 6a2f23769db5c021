// Package ports defines the core interfaces for the router.
package ports

import (
	"context"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	// Watch blocks until ctx is done; onChange is never called after it returns.
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// AuthProvider authenticates API callers.
// Implementations: API key (default).
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (*AuthContext, error)
}

// AuthContext contains authenticated request context.
type AuthContext struct {
	KeyID    string
	Metadata map[string]string
}

// EventPublisher publishes run lifecycle events.
// Implementations: direct storage (default).
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}
