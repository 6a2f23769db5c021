// Package reasoningtest provides a scripted reasoning client for tests and demos.
package reasoningtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Step produces one Think result.
type Step func(req ports.ThinkRequest) (*domain.Thought, error)

// Scripted replays steps in order, one per Think call. When the script runs
// out the last step repeats.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []ports.ThinkRequest
}

var _ ports.ReasoningClient = (*Scripted)(nil)

// New creates a scripted client.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Name() string {
	return "scripted"
}

func (s *Scripted) Think(ctx context.Context, req ports.ThinkRequest) (*domain.Thought, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	var step Step
	switch {
	case len(s.steps) == 0:
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted client has no steps")
	case n < len(s.steps):
		step = s.steps[n]
	default:
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return step(req)
}

// Requests returns every request received so far.
func (s *Scripted) Requests() []ports.ThinkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ThinkRequest(nil), s.requests...)
}

// Call requests the given calls without finishing.
func Call(thought string, calls ...domain.ToolCallWithResult) Step {
	return func(ports.ThinkRequest) (*domain.Thought, error) {
		return &domain.Thought{
			NaturalLanguageThought: thought,
			StructuredThought:      domain.StructuredThought{FunctionCalls: cloneCalls(calls)},
		}, nil
	}
}

// Answer finishes with the given answer.
func Answer(thought, answer string) Step {
	return func(ports.ThinkRequest) (*domain.Thought, error) {
		return &domain.Thought{
			NaturalLanguageThought: thought,
			StructuredThought:      domain.StructuredThought{IsFinished: true},
			Answer:                 answer,
		}, nil
	}
}

// Delay runs step after sleeping for d.
func Delay(d time.Duration, step Step) Step {
	return func(req ports.ThinkRequest) (*domain.Thought, error) {
		time.Sleep(d)
		return step(req)
	}
}

// Fail returns err.
func Fail(err error) Step {
	return func(ports.ThinkRequest) (*domain.Thought, error) {
		return nil, err
	}
}

// Tool builds a tool-typed call.
func Tool(name string, args map[string]any) domain.ToolCallWithResult {
	return domain.ToolCallWithResult{Function: name, Type: domain.CallTypeTool, Args: args}
}

// Agent builds an agent-typed call.
func Agent(name, question string) domain.ToolCallWithResult {
	return domain.ToolCallWithResult{Function: name, Type: domain.CallTypeAgent, Args: map[string]any{"question": question}}
}

// Each thought must own its calls since the engine fills in results.
func cloneCalls(calls []domain.ToolCallWithResult) []domain.ToolCallWithResult {
	out := make([]domain.ToolCallWithResult, len(calls))
	copy(out, calls)
	return out
}
