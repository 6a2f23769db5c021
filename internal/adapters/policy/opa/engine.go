// Package opa evaluates tool-call policies written in Rego.
package opa

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Query is the rule every policy module must define. It evaluates to
// "allow" or "block".
const Query = "data.tool_policy.decision"

// DefaultPolicy blocks tools listed in the configured block list and nested
// agent calls that would exceed the depth limit.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "block" {
	input.blocked[_] == input.tool
}

decision = "block" {
	input.type == "agent"
	input.depth >= input.max_depth
}
`

// Engine is the OPA policy engine.
type Engine struct {
	query    rego.PreparedEvalQuery
	blocked  []string
	maxDepth int
}

// Config configures an Engine.
type Config struct {
	// Module is the rego source. DefaultPolicy is used when empty.
	Module string
	// Blocked is exposed to the policy as input.blocked.
	Blocked []string
	// MaxDepth is exposed to the policy as input.max_depth.
	MaxDepth int
}

// NewEngine prepares the policy module for evaluation.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	module := cfg.Module
	if module == "" {
		module = DefaultPolicy
	}

	r := rego.New(
		rego.Query(Query),
		rego.Module("tool_policy.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, blocked: cfg.Blocked, maxDepth: cfg.MaxDepth}, nil
}

// NewEngineFromFile loads the module at path, or the default policy when path is empty.
func NewEngineFromFile(ctx context.Context, path string, blocked []string, maxDepth int) (*Engine, error) {
	cfg := Config{Blocked: blocked, MaxDepth: maxDepth}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", path, err)
		}
		cfg.Module = string(data)
	}
	return NewEngine(ctx, cfg)
}

// Evaluate checks one tool call against the policy.
func (e *Engine) Evaluate(ctx context.Context, in ports.PolicyInput) (ports.PolicyDecision, error) {
	blocked := make([]any, len(e.blocked))
	for i, b := range e.blocked {
		blocked[i] = b
	}

	input := map[string]any{
		"context_id": in.ContextID,
		"tool":       in.Tool,
		"type":       in.Type,
		"args":       in.Args,
		"depth":      in.Depth,
		"iteration":  in.Iteration,
		"blocked":    blocked,
		"max_depth":  e.maxDepth,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return ports.PolicyDecision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ports.PolicyDecision{Allow: true, Reason: "no decision"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		if v == "block" {
			return ports.PolicyDecision{Allow: false, Reason: fmt.Sprintf("tool %q blocked by policy", in.Tool)}, nil
		}
		return ports.PolicyDecision{Allow: true, Reason: v}, nil
	default:
		return ports.PolicyDecision{}, fmt.Errorf("unexpected policy result type %T", v)
	}
}

var _ ports.ToolPolicy = (*Engine)(nil)
