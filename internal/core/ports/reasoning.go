package ports

import (
	"context"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// ThinkRequest is the running context handed to the reasoning model for one iteration.
type ThinkRequest struct {
	Question        string
	PreviousContext []domain.ContextMessage
	History         []domain.RouterIteration
	Tools           []domain.ToolDescriptor
	Agents          []domain.AgentDescriptor

	Iteration     int
	MaxIterations int

	// RepairHint carries the previous failure when this is the repair attempt.
	RepairHint string
}

// ReasoningClient produces one thought per iteration.
// Implementations: openai, ollama, gemini.
type ReasoningClient interface {
	Name() string
	// Think fails with ModelUnavailable or MalformedOutput typed errors.
	Think(ctx context.Context, req ThinkRequest) (*domain.Thought, error)
}
