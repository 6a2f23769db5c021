package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/telemetry"
)

// executeCalls runs one iteration's calls with bounded parallelism. Results
// keep request order. A failing call becomes an inline error result and never
// aborts the batch.
func (e *Engine) executeCalls(cancelCtx, ctx context.Context, f frame, proc *domain.RouterProcess, iteration int, calls []domain.ToolCallWithResult) []domain.ToolCallWithResult {
	results := make([]domain.ToolCallWithResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.toolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.execute(cancelCtx, ctx, f, proc, iteration, call)
			return nil
		})
	}
	g.Wait()

	return results
}

func (e *Engine) execute(cancelCtx, ctx context.Context, f frame, proc *domain.RouterProcess, iteration int, call domain.ToolCallWithResult) domain.ToolCallWithResult {
	if call.Type == "" {
		call.Type = domain.CallTypeTool
	}

	ctx, span := e.tracer.Start(ctx, "router.call", trace.WithAttributes(
		attribute.String("function", call.Function),
		attribute.String("type", string(call.Type)),
	))
	defer span.End()

	start := time.Now()
	result, err := e.dispatch(cancelCtx, ctx, f, proc, iteration, &call)
	elapsed := time.Since(start)

	call.DurationMS = elapsed.Milliseconds()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("call failed",
			slog.String("context_id", proc.ContextID),
			slog.Int("iteration", iteration),
			slog.String("tool", call.Function),
			slog.String("error", err.Error()))
		call.Result = "error: " + err.Error()
		call.Error = true
	} else {
		call.Result = result
	}

	telemetry.RecordToolCall(string(call.Type), call.Error, elapsed)
	return call
}

func (e *Engine) dispatch(cancelCtx, ctx context.Context, f frame, proc *domain.RouterProcess, iteration int, call *domain.ToolCallWithResult) (string, error) {
	if e.policy != nil {
		decision, err := e.policy.Evaluate(ctx, ports.PolicyInput{
			ContextID: proc.ContextID,
			Tool:      call.Function,
			Type:      string(call.Type),
			Args:      call.Args,
			Depth:     f.depth,
			Iteration: iteration,
		})
		if err != nil {
			return "", fmt.Errorf("policy evaluation: %w", err)
		}
		if !decision.Allow {
			return "", domain.ErrToolExecution("blocked by policy: " + decision.Reason).
				WithCode(domain.ErrorCodePolicyBlocked)
		}
	}

	switch call.Type {
	case domain.CallTypeAgent:
		return e.callAgent(cancelCtx, ctx, f, proc, call)
	default:
		if f.allowed != nil && !f.allowed[call.Function] {
			return "", domain.ErrToolNotFound(call.Function)
		}
		return e.tools.CallTool(ctx, call.Function, call.Args)
	}
}

// callAgent runs a nested engine run for a named sub-agent and attaches the
// child trace to the call.
func (e *Engine) callAgent(cancelCtx, ctx context.Context, f frame, proc *domain.RouterProcess, call *domain.ToolCallWithResult) (string, error) {
	agent, ok := e.agents[call.Function]
	if !ok {
		return "", domain.ErrToolNotFound(call.Function)
	}
	if f.depth >= e.maxDepth {
		return "", domain.ErrToolExecution(fmt.Sprintf("agent depth limit %d reached", e.maxDepth)).
			WithCode(domain.ErrorCodeMaxDepth)
	}

	question, _ := call.Args["question"].(string)
	if strings.TrimSpace(question) == "" {
		return "", domain.ErrToolExecution("agent call requires a string \"question\" argument").
			WithCode(domain.ErrorCodeInvalidArguments).
			WithParam("question")
	}

	maxIterations := agent.MaxIterations
	if maxIterations < 1 {
		maxIterations = proc.MaxIterations
	}

	var allowed map[string]bool
	if len(agent.Tools) > 0 {
		allowed = make(map[string]bool, len(agent.Tools))
		for _, t := range agent.Tools {
			allowed[t] = true
		}
	}

	child, err := e.run(cancelCtx, ctx, frame{
		req: RunRequest{
			ContextID:     proc.ContextID + "/" + agent.Name + "-" + uuid.NewString()[:8],
			Question:      domain.Question{Text: question},
			MaxIterations: maxIterations,
		},
		depth:   f.depth + 1,
		allowed: allowed,
	}, nil)
	call.InternalRouterProcess = child

	switch child.Status {
	case domain.ProcessStatusCompleted:
		return child.Response, nil
	case domain.ProcessStatusCancelled:
		return "", domain.ErrToolExecution(fmt.Sprintf("agent %s was cancelled", agent.Name))
	default:
		return "", domain.ErrToolExecution(fmt.Sprintf("agent %s failed: %s", agent.Name, child.Error)).WithCause(err)
	}
}

func sortAgents(agents []domain.AgentDescriptor) {
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Name < agents[j].Name
	})
}
