// Package basic provides a tool policy that allows every call.
package basic

import (
	"context"

	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Policy implements ports.ToolPolicy with no restrictions.
// This is the default when policy evaluation is disabled.
type Policy struct{}

// NewPolicy creates a new basic policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// Evaluate always allows the call.
func (p *Policy) Evaluate(ctx context.Context, in ports.PolicyInput) (ports.PolicyDecision, error) {
	return ports.PolicyDecision{
		Allow:  true,
		Reason: "basic policy allows all tool calls",
	}, nil
}

var _ ports.ToolPolicy = (*Policy)(nil)
