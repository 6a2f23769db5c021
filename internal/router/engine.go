// Package router implements the reason -> act -> observe loop that turns one
// question into a bounded RouterProcess trace.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/telemetry"
	"github.com/tjfontaine/agent-router/internal/tokens"
)

const (
	defaultRunTimeout      = 5 * time.Minute
	defaultToolConcurrency = 4
	defaultMaxDepth        = 2
)

// RunRequest is one question to drive to a terminal state.
type RunRequest struct {
	ContextID     string
	Question      domain.Question
	MaxIterations int
}

// IterationFunc observes each iteration right after it is appended.
// It runs on the engine goroutine and must not block for long.
type IterationFunc func(it domain.RouterIteration)

// Engine runs router processes. It is safe for concurrent use.
type Engine struct {
	reasoner ports.ReasoningClient
	tools    ports.ToolClient
	policy   ports.ToolPolicy
	agents   map[string]domain.AgentDescriptor
	budget   *tokens.Budget

	ceiling         int
	maxDepth        int
	runTimeout      time.Duration
	toolConcurrency int

	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy gates every call through p.
func WithPolicy(p ports.ToolPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithAgents registers the sub-agents reachable through agent-typed calls.
func WithAgents(agents []domain.AgentDescriptor) Option {
	return func(e *Engine) {
		for _, a := range agents {
			e.agents[a.Name] = a
		}
	}
}

// WithTokenBudget trims prior conversation turns to fit the budget.
func WithTokenBudget(b *tokens.Budget) Option {
	return func(e *Engine) {
		e.budget = b
	}
}

// WithMaxIterationsCeiling rejects requests above n. Zero means no ceiling.
func WithMaxIterationsCeiling(n int) Option {
	return func(e *Engine) {
		e.ceiling = n
	}
}

// WithMaxDepth bounds agent recursion.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		e.maxDepth = n
	}
}

// WithRunTimeout sets the wall-clock ceiling of a run, nested agents included.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.runTimeout = d
		}
	}
}

// WithToolConcurrency bounds parallel calls within one iteration.
func WithToolConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.toolConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over a reasoning client and a tool client.
func New(reasoner ports.ReasoningClient, tools ports.ToolClient, opts ...Option) *Engine {
	e := &Engine{
		reasoner:        reasoner,
		tools:           tools,
		agents:          make(map[string]domain.AgentDescriptor),
		maxDepth:        defaultMaxDepth,
		runTimeout:      defaultRunTimeout,
		toolConcurrency: defaultToolConcurrency,
		logger:          slog.Default(),
		tracer:          otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate rejects requests that must not start.
func (e *Engine) Validate(req RunRequest) error {
	if strings.TrimSpace(req.Question.Text) == "" {
		return ErrEmptyQuestion
	}
	if req.MaxIterations < 1 {
		return ErrInvalidMaxIterations
	}
	if e.ceiling > 0 && req.MaxIterations > e.ceiling {
		return errAboveCeiling(req.MaxIterations, e.ceiling)
	}
	return nil
}

// Run drives req to a terminal state, calling onIteration (which may be nil)
// after each appended iteration.
//
// A request rejected by Validate returns a nil process. Otherwise the process
// is always returned in a terminal state; err is non-nil only when it failed.
// Cancelling ctx stops the run before the next iteration; an iteration already
// in flight still completes and is appended.
func (e *Engine) Run(ctx context.Context, req RunRequest, onIteration IterationFunc) (*domain.RouterProcess, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.runTimeout)
	defer cancel()

	return e.run(ctx, execCtx, frame{req: req}, onIteration)
}

// frame is one level of the agent tree.
type frame struct {
	req   RunRequest
	depth int
	// allowed restricts the tools visible to a sub-agent; nil allows all.
	allowed map[string]bool
}

// run is the iteration state machine. cancelCtx carries caller cancellation,
// execCtx carries the run deadline and is what calls execute under.
func (e *Engine) run(cancelCtx, execCtx context.Context, f frame, onIteration IterationFunc) (*domain.RouterProcess, error) {
	started := time.Now()
	proc := domain.NewRouterProcess(f.req.ContextID, f.req.Question, f.req.MaxIterations)
	proc.Depth = f.depth

	execCtx, span := e.tracer.Start(execCtx, "router.run", trace.WithAttributes(
		attribute.String("context_id", proc.ContextID),
		attribute.Int("max_iterations", proc.MaxIterations),
		attribute.Int("depth", proc.Depth),
	))
	defer span.End()

	logger := e.logger.With(slog.String("context_id", proc.ContextID), slog.Int("depth", proc.Depth))
	logger.Info("run started", slog.Int("max_iterations", proc.MaxIterations))

	var runErr error

	prior := f.req.Question.PreviousContext
	if e.budget != nil {
		prior = e.budget.Trim(prior)
	}

	for i := 1; i <= proc.MaxIterations; i++ {
		if cancelCtx.Err() != nil {
			proc.Cancel()
			break
		}
		if execCtx.Err() != nil {
			runErr = errRunTimeout(e.runTimeout)
			proc.Fail(runErr)
			break
		}

		it, thought, err := e.iterate(cancelCtx, execCtx, f, proc, prior, i)
		if err != nil {
			if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				err = errRunTimeout(e.runTimeout)
			}
			logger.Error("iteration failed", slog.Int("iteration", i), slog.String("error", err.Error()))
			runErr = err
			proc.Fail(err)
			break
		}

		proc.IterationHistory = append(proc.IterationHistory, it)
		if onIteration != nil {
			onIteration(it)
		}

		if thought.StructuredThought.IsFinished || (len(it.StructuredThought.FunctionCalls) == 0 && thought.Answer != "") {
			proc.Complete(bestAnswer(proc))
			break
		}
		if i == proc.MaxIterations {
			logger.Info("iteration budget exhausted", slog.Int("iterations", i))
			proc.Complete(bestAnswer(proc))
		}
	}

	elapsed := time.Since(started)
	span.SetAttributes(
		attribute.String("status", string(proc.Status)),
		attribute.Int("iterations", len(proc.IterationHistory)),
	)
	if proc.Status == domain.ProcessStatusFailed {
		span.SetStatus(codes.Error, proc.Error)
	}
	telemetry.RecordRun(string(proc.Status), len(proc.IterationHistory), elapsed)
	logger.Info("run finished",
		slog.String("status", string(proc.Status)),
		slog.Int("iterations", len(proc.IterationHistory)),
		slog.Duration("duration", elapsed))

	return proc, runErr
}

// iterate performs one reason -> act -> observe step. A reasoning failure
// returns an error and no iteration.
func (e *Engine) iterate(cancelCtx, execCtx context.Context, f frame, proc *domain.RouterProcess, prior []domain.ContextMessage, i int) (domain.RouterIteration, *domain.Thought, error) {
	ctx, span := e.tracer.Start(execCtx, "router.iteration", trace.WithAttributes(attribute.Int("iteration", i)))
	defer span.End()

	req := ports.ThinkRequest{
		Question:        proc.Question,
		PreviousContext: prior,
		History:         proc.IterationHistory,
		Tools:           e.visibleTools(ctx, f),
		Agents:          e.visibleAgents(f),
		Iteration:       i,
		MaxIterations:   proc.MaxIterations,
	}

	thought, err := e.think(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.RouterIteration{}, nil, err
	}

	calls := e.executeCalls(cancelCtx, ctx, f, proc, i, thought.StructuredThought.FunctionCalls)

	it := domain.RouterIteration{
		Iteration:              i,
		NaturalLanguageThought: thought.NaturalLanguageThought,
		StructuredThought: domain.StructuredThought{
			FunctionCalls: calls,
			IsFinished:    thought.StructuredThought.IsFinished,
		},
		Response: observe(calls, thought.Answer),
		Answer:   thought.Answer,
	}
	return it, thought, nil
}

// think asks the reasoning client for a thought, retrying once with the
// failure as a repair hint.
func (e *Engine) think(ctx context.Context, req ports.ThinkRequest) (*domain.Thought, error) {
	thought, err := e.reasoner.Think(ctx, req)
	if err == nil {
		return thought, nil
	}
	telemetry.RecordReasoningError(string(errorType(err)))
	if ctx.Err() != nil {
		return nil, err
	}

	e.logger.Warn("reasoning failed, retrying with repair hint",
		slog.Int("iteration", req.Iteration),
		slog.String("error", err.Error()))

	req.RepairHint = err.Error()
	thought, err = e.reasoner.Think(ctx, req)
	if err == nil {
		return thought, nil
	}
	telemetry.RecordReasoningError(string(errorType(err)))
	return nil, errReasoningFailed(err)
}

func (e *Engine) visibleTools(ctx context.Context, f frame) []domain.ToolDescriptor {
	all, err := e.tools.ListTools(ctx)
	if err != nil {
		e.logger.Warn("list tools failed", slog.String("error", err.Error()))
		return nil
	}
	if f.allowed == nil {
		return all
	}
	out := make([]domain.ToolDescriptor, 0, len(f.allowed))
	for _, t := range all {
		if f.allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// visibleAgents lists sub-agents unless calling one would exceed the depth bound.
func (e *Engine) visibleAgents(f frame) []domain.AgentDescriptor {
	if f.depth >= e.maxDepth || len(e.agents) == 0 {
		return nil
	}
	out := make([]domain.AgentDescriptor, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, a)
	}
	sortAgents(out)
	return out
}

// observe summarizes an iteration's results for the next reasoning step.
func observe(calls []domain.ToolCallWithResult, answer string) string {
	if len(calls) == 0 {
		return answer
	}
	var b strings.Builder
	for i, c := range calls {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Function)
		b.WriteString(": ")
		b.WriteString(c.Result)
	}
	return b.String()
}

// bestAnswer is the latest explicit answer, else the latest observation.
func bestAnswer(proc *domain.RouterProcess) string {
	for i := len(proc.IterationHistory) - 1; i >= 0; i-- {
		if a := proc.IterationHistory[i].Answer; a != "" {
			return a
		}
	}
	for i := len(proc.IterationHistory) - 1; i >= 0; i-- {
		if r := proc.IterationHistory[i].Response; r != "" {
			return r
		}
	}
	return "No answer was produced."
}

func errorType(err error) domain.ErrorType {
	if t := domain.ErrorTypeOf(err); t != "" {
		return t
	}
	return domain.ErrorTypeServer
}
