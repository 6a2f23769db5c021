package ports

import (
	"context"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// ToolClient discovers and executes tools on one tool server.
// Implementations: MCP (streamable HTTP, SSE, in-process), webhook.
type ToolClient interface {
	Name() string
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	// CallTool fails with ToolNotFound, ToolExecutionError or ToolTimeout typed errors.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// PolicyInput is evaluated before each tool call.
type PolicyInput struct {
	ContextID string         `json:"context_id"`
	Tool      string         `json:"tool"`
	Type      string         `json:"type"`
	Args      map[string]any `json:"args"`
	Depth     int            `json:"depth"`
	Iteration int            `json:"iteration"`
}

// PolicyDecision is the result of a tool policy check.
type PolicyDecision struct {
	Allow  bool
	Reason string
}

// ToolPolicy gates tool calls.
// Implementations: OPA rego (default), allow-all.
type ToolPolicy interface {
	Evaluate(ctx context.Context, in PolicyInput) (PolicyDecision, error)
}
