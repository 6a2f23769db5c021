// Package runs launches router runs, streams their iterations to session
// subscribers and persists the finished traces.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/router"
	"github.com/tjfontaine/agent-router/internal/stream"
	"github.com/tjfontaine/agent-router/internal/telemetry"
)

const persistTimeout = 10 * time.Second

var (
	// ErrRunFinished is returned when cancelling a run that is already terminal.
	ErrRunFinished = domain.ErrInvalidRequest("run already finished")

	// ErrShuttingDown is returned by Create once Shutdown has begun.
	ErrShuttingDown = domain.ErrServer("router is shutting down").WithStatusCode(http.StatusServiceUnavailable)
)

// CreateRequest is a validated inbound run request.
type CreateRequest struct {
	Question string
	// MaxIterations falls back to the configured default when nil.
	MaxIterations   *int
	PreviousContext []domain.ContextMessage
}

// active tracks one in-flight run and its live trace.
type active struct {
	run  *router.Run
	live *domain.RouterProcess
}

// Coordinator owns the in-flight runs of the process.
type Coordinator struct {
	engine  *router.Engine
	streams *stream.Manager
	store   ports.TraceStore
	events  ports.EventPublisher

	defaultMaxIterations int
	reasonerName         string
	logger               *slog.Logger

	// base outlives any single request; cancelled on Shutdown.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*active
	// closed is set by Shutdown; guarded by mu.
	closed bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTraceStore persists finished traces. Without one traces are kept only
// for the stream grace period.
func WithTraceStore(s ports.TraceStore) Option {
	return func(c *Coordinator) {
		c.store = s
	}
}

// WithEventPublisher publishes lifecycle events.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(c *Coordinator) {
		c.events = p
	}
}

// WithDefaultMaxIterations is used when a request leaves max_iterations unset.
func WithDefaultMaxIterations(n int) Option {
	return func(c *Coordinator) {
		c.defaultMaxIterations = n
	}
}

// WithStopOnNoSubscribers cancels a run once its last subscriber leaves.
func WithStopOnNoSubscribers() Option {
	return func(c *Coordinator) {
		c.streams.SetNoSubscribersFunc(func(id string) {
			c.logger.Info("last subscriber left, cancelling run", slog.String("context_id", id))
			_ = c.Cancel(id)
		})
	}
}

// WithReasonerName labels lifecycle events with the reasoning backend.
func WithReasonerName(name string) Option {
	return func(c *Coordinator) {
		c.reasonerName = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(engine *router.Engine, streams *stream.Manager, opts ...Option) *Coordinator {
	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		engine:               engine,
		streams:              streams,
		defaultMaxIterations: 5,
		logger:               slog.Default(),
		base:                 base,
		cancel:               cancel,
		active:               make(map[string]*active),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates req, claims a session and starts the run in the background.
// It returns the new context id.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (string, error) {
	maxIterations := c.defaultMaxIterations
	if req.MaxIterations != nil {
		maxIterations = *req.MaxIterations
	}

	runReq := router.RunRequest{
		ContextID:     uuid.NewString(),
		Question:      domain.Question{Text: req.Question, PreviousContext: req.PreviousContext},
		MaxIterations: maxIterations,
	}
	if err := c.engine.Validate(runReq); err != nil {
		return "", err
	}

	// Holding mu until wg.Add keeps Shutdown from waiting on a group that
	// is still growing.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrShuttingDown
	}

	if err := c.streams.CreateSession(runReq.ContextID); err != nil {
		return "", err
	}

	run, err := c.engine.Start(c.base, runReq)
	if err != nil {
		c.streams.CloseSession(runReq.ContextID)
		return "", err
	}

	a := &active{
		run:  run,
		live: domain.NewRouterProcess(runReq.ContextID, runReq.Question, maxIterations),
	}
	c.active[runReq.ContextID] = a
	c.wg.Add(1)

	c.publishLifecycle(runReq.ContextID, domain.LifecycleEventStarted, domain.LifecycleStartedData{
		Question:      req.Question,
		MaxIterations: maxIterations,
		Reasoner:      c.reasonerName,
	})

	go c.pump(a)

	c.logger.Info("run created",
		slog.String("context_id", runReq.ContextID),
		slog.Int("max_iterations", maxIterations))
	return runReq.ContextID, nil
}

// pump forwards iterations to the session, then persists the trace, publishes
// the terminal event and closes the session.
func (c *Coordinator) pump(a *active) {
	defer c.wg.Done()
	id := a.run.ContextID()
	started := time.Now()

	for it := range a.run.Iterations() {
		c.mu.Lock()
		a.live.IterationHistory = append(a.live.IterationHistory, it)
		c.mu.Unlock()

		if err := c.streams.Publish(id, domain.NewIterationEvent(it)); err != nil {
			c.logger.Warn("publish iteration failed", slog.String("context_id", id), slog.String("error", err.Error()))
		}
		c.publishLifecycle(id, domain.LifecycleEventIteration, domain.LifecycleIterationData{
			Iteration: it.Iteration,
			ToolCalls: len(it.StructuredThought.FunctionCalls),
			Finished:  it.StructuredThought.IsFinished,
		})
	}

	<-a.run.Done()
	proc := a.run.Process()

	c.persist(proc)

	if err := c.streams.Publish(id, domain.TerminalEvent(proc.Clone())); err != nil {
		c.logger.Warn("publish terminal event failed", slog.String("context_id", id), slog.String("error", err.Error()))
	}
	if err := c.streams.CloseSession(id); err != nil {
		c.logger.Warn("close session failed", slog.String("context_id", id), slog.String("error", err.Error()))
	}

	c.publishLifecycle(id, domain.LifecycleEventForStatus(proc.Status), domain.LifecycleFinishedData{
		Status:     proc.Status,
		Iterations: len(proc.IterationHistory),
		Duration:   time.Since(started),
		Error:      proc.Error,
	})

	c.mu.Lock()
	a.live = proc
	delete(c.active, id)
	c.mu.Unlock()
}

// persist saves the trace. A failure marks the trace degraded and never fails the run.
func (c *Coordinator) persist(proc *domain.RouterProcess) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.store.SaveProcess(ctx, proc); err != nil {
		proc.PersistenceDegraded = true
		telemetry.RecordTraceSaveError()
		c.logger.Error("trace persistence failed",
			slog.String("context_id", proc.ContextID),
			slog.String("error", err.Error()))
		c.publishLifecycle(proc.ContextID, domain.LifecycleEventDegraded, map[string]string{"error": err.Error()})
	}
}

func (c *Coordinator) publishLifecycle(id string, t domain.LifecycleEventType, data any) {
	if c.events == nil {
		return
	}
	ev := &domain.LifecycleEvent{Type: t, ContextID: id, Timestamp: time.Now().UTC(), Data: data}
	if err := c.events.Publish(context.Background(), ev); err != nil {
		c.logger.Warn("lifecycle publish failed",
			slog.String("context_id", id),
			slog.String("event", string(t)),
			slog.String("error", err.Error()))
	}
}

// Cancel requests cancellation of an in-flight run.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	a, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		a.run.Cancel()
		return nil
	}

	if c.store != nil {
		if _, err := c.store.GetProcess(context.Background(), id); err == nil {
			return ErrRunFinished
		}
	}
	return domain.ErrNotFound("run not found")
}

// Get returns a snapshot of the live trace, or the stored trace once finished.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.RouterProcess, error) {
	c.mu.Lock()
	if a, ok := c.active[id]; ok {
		snap := a.live.Clone()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil, domain.ErrNotFound("run not found")
	}
	return c.store.GetProcess(ctx, id)
}

// List pages through stored traces, newest first.
func (c *Coordinator) List(ctx context.Context, opts ports.ListOptions) ([]domain.ProcessSummary, error) {
	if c.store == nil {
		return []domain.ProcessSummary{}, nil
	}
	return c.store.ListProcesses(ctx, opts)
}

// Active returns the number of in-flight runs.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown cancels in-flight runs and waits for them to persist, or for ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("runs still in flight at shutdown"), ctx.Err())
	}
}
