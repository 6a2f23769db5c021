package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/agent-router/internal/adapters/config/file"
	"github.com/tjfontaine/agent-router/internal/adapters/policy/basic"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Option is a functional option for configuring a Router.
type Option func(*Router) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(r *Router) error {
		provider, err := file.NewProvider(path, r.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		r.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(r *Router) error {
		r.config = provider
		return nil
	}
}

// WithAuthProvider sets a custom auth provider. Without one, API key auth is
// built from config when auth.enabled is set.
func WithAuthProvider(provider ports.AuthProvider) Option {
	return func(r *Router) error {
		r.auth = provider
		return nil
	}
}

// WithStorageProvider sets a custom storage provider instead of the one
// named by storage.type.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(r *Router) error {
		r.storage = provider
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
// The default writes lifecycle events directly to storage.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(r *Router) error {
		r.events = publisher
		return nil
	}
}

// WithBasicPolicy allows every tool call regardless of the policy config.
func WithBasicPolicy() Option {
	return func(r *Router) error {
		r.policy = basic.NewPolicy()
		return nil
	}
}

// WithToolPolicy sets a custom tool policy.
func WithToolPolicy(policy ports.ToolPolicy) Option {
	return func(r *Router) error {
		r.policy = policy
		return nil
	}
}

// WithReasoningClient bypasses the reasoning provider registry.
func WithReasoningClient(client ports.ReasoningClient) Option {
	return func(r *Router) error {
		r.reasoner = client
		return nil
	}
}

// WithToolClient adds a tool server alongside the configured ones, for
// example an in-process MCP server.
func WithToolClient(client ports.ToolClient) Option {
	return func(r *Router) error {
		if client == nil {
			return fmt.Errorf("tool client cannot be nil")
		}
		r.extraTools = append(r.extraTools, client)
		return nil
	}
}

// WithHTTPClient sets the client used for reasoning backends and webhook tools.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Router) error {
		r.httpClient = client
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		r.logger = logger
		return nil
	}
}
