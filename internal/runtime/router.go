// Package runtime assembles the agent router process and manages its
// lifecycle. There are no package-level singletons: everything a running
// router owns hangs off a Router built by New and released by Shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/agent-router/internal/adapters/auth/apikey"
	"github.com/tjfontaine/agent-router/internal/adapters/events/direct"
	"github.com/tjfontaine/agent-router/internal/adapters/policy/basic"
	"github.com/tjfontaine/agent-router/internal/adapters/policy/opa"
	v1 "github.com/tjfontaine/agent-router/internal/api/v1"
	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
	"github.com/tjfontaine/agent-router/internal/reasoning"
	"github.com/tjfontaine/agent-router/internal/registration"
	routerpkg "github.com/tjfontaine/agent-router/internal/router"
	"github.com/tjfontaine/agent-router/internal/runs"
	"github.com/tjfontaine/agent-router/internal/server"
	"github.com/tjfontaine/agent-router/internal/storage"
	"github.com/tjfontaine/agent-router/internal/stream"
	"github.com/tjfontaine/agent-router/internal/telemetry"
	"github.com/tjfontaine/agent-router/internal/tokens"
	"github.com/tjfontaine/agent-router/internal/tools"
)

// Router is the main entry point for running the agent router.
// It can be embedded in larger applications or run standalone.
type Router struct {
	// Dependencies (injected via options)
	config     ports.ConfigProvider
	auth       ports.AuthProvider
	storage    ports.StorageProvider
	events     ports.EventPublisher
	policy     ports.ToolPolicy
	reasoner   ports.ReasoningClient
	extraTools []ports.ToolClient
	httpClient *http.Client

	// Built by Start
	cfg     *config.Config
	catalog *tools.Catalog
	engine  *routerpkg.Engine
	streams *stream.Manager
	runs    *runs.Coordinator
	server  *server.Server
	logger  *slog.Logger

	shutdownTracer func(context.Context) error

	// toolServers is read by the readiness probe without taking mu.
	toolServers atomic.Int32

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// New creates a Router with the given options. A config provider is required.
func New(opts ...Option) (*Router, error) {
	r := &Router{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if r.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig)")
	}

	return r, nil
}

// Start loads config, builds every component and starts serving HTTP.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("router already started")
	}
	if r.stopped {
		return fmt.Errorf("router was shut down and cannot be restarted")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	cfg, err := r.config.Load(r.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg

	if err := r.build(cfg); err != nil {
		r.cancel()
		r.closeResources()
		return err
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.streams.Run(r.ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.watchConfig()
	}()

	go func() {
		if err := r.server.Start(); err != nil {
			r.logger.Error("server stopped", slog.String("error", err.Error()))
		}
	}()

	r.started = true
	r.logger.Info("router started",
		slog.Int("port", cfg.Server.Port),
		slog.String("reasoner", r.reasoner.Name()),
		slog.Int("tool_servers", len(cfg.Tools)+len(r.extraTools)),
		slog.Int("agents", len(cfg.Agents)))

	return nil
}

func (r *Router) build(cfg *config.Config) error {
	shutdown, err := telemetry.InitTracer(cfg.Telemetry, r.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	r.shutdownTracer = shutdown

	if r.storage == nil {
		store, err := storage.Open(cfg.Storage, r.logger)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		r.storage = store
	}
	if r.storage == nil {
		r.logger.Warn("storage disabled, traces will not be persisted")
	}

	if r.events == nil && r.storage != nil {
		publisher, err := direct.NewPublisher(r.storage)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		r.events = publisher
	}

	if r.auth == nil && cfg.Auth.Enabled {
		provider, err := apikey.NewProvider(cfg.Auth)
		if err != nil {
			return fmt.Errorf("create apikey auth provider: %w", err)
		}
		r.auth = provider
	}
	if r.auth == nil {
		r.logger.Info("no auth provider configured, all requests allowed")
	}

	if r.policy == nil {
		policy, err := buildPolicy(r.ctx, cfg)
		if err != nil {
			return err
		}
		r.policy = policy
	}

	if r.reasoner == nil {
		registration.RegisterBuiltins()
		client, err := reasoning.New(cfg.Reasoning, r.httpClient)
		if err != nil {
			return fmt.Errorf("create reasoning client: %w", err)
		}
		r.reasoner = client
	}

	r.toolServers.Store(int32(len(cfg.Tools) + len(r.extraTools)))
	r.catalog = tools.NewCatalog(r.toolClients(cfg),
		tools.WithCallTimeout(cfg.Router.ToolTimeout),
		tools.WithLogger(r.logger))
	if err := r.catalog.Refresh(r.ctx); err != nil {
		// Unreachable tool servers are retried on the next config change.
		r.logger.Warn("some tool servers are unavailable", slog.String("error", err.Error()))
	}

	agents := agentDescriptors(cfg.Agents)
	engineOpts := []routerpkg.Option{
		routerpkg.WithPolicy(r.policy),
		routerpkg.WithAgents(agents),
		routerpkg.WithMaxIterationsCeiling(cfg.Router.MaxIterationsCeiling),
		routerpkg.WithMaxDepth(cfg.Router.MaxDepth),
		routerpkg.WithRunTimeout(cfg.Router.RunTimeout),
		routerpkg.WithToolConcurrency(cfg.Router.ToolConcurrency),
		routerpkg.WithLogger(r.logger),
	}
	if cfg.Router.ContextTokenBudget > 0 {
		counter := tokens.NewCounter(cfg.Router.TokenizerModel, r.logger)
		engineOpts = append(engineOpts, routerpkg.WithTokenBudget(tokens.NewBudget(counter, cfg.Router.ContextTokenBudget)))
	}
	r.engine = routerpkg.New(r.reasoner, r.catalog, engineOpts...)

	r.streams = stream.NewManager(
		stream.WithQueueSize(cfg.Stream.QueueSize),
		stream.WithGracePeriod(cfg.Stream.GracePeriod),
		stream.WithIdleTimeout(cfg.Stream.IdleTimeout),
		stream.WithSweepInterval(cfg.Stream.SweepInterval),
		stream.WithLogger(r.logger),
	)

	runOpts := []runs.Option{
		runs.WithDefaultMaxIterations(cfg.Router.DefaultMaxIterations),
		runs.WithReasonerName(r.reasoner.Name()),
		runs.WithLogger(r.logger),
	}
	if r.storage != nil {
		runOpts = append(runOpts, runs.WithTraceStore(r.storage))
	}
	if r.events != nil {
		runOpts = append(runOpts, runs.WithEventPublisher(r.events))
	}
	if cfg.Router.StopOnNoSubscribers {
		runOpts = append(runOpts, runs.WithStopOnNoSubscribers())
	}
	r.runs = runs.NewCoordinator(r.engine, r.streams, runOpts...)

	r.server = server.New(cfg.Server.Port, r.logger)
	r.mountRoutes(cfg, agents)
	return nil
}

func (r *Router) mountRoutes(cfg *config.Config, agents []domain.AgentDescriptor) {
	apiOpts := []v1.Option{
		v1.WithAgents(agents),
		v1.WithRequestTimeout(cfg.Server.RequestTimeout),
		v1.WithLogger(r.logger),
	}
	if r.auth != nil {
		apiOpts = append(apiOpts, v1.WithAuth(r.auth))
	}
	if cfg.Server.RunsPerSecond > 0 {
		apiOpts = append(apiOpts, v1.WithRateLimiter(server.NewRateLimiter(cfg.Server.RunsPerSecond, cfg.Server.RunsBurst)))
	}
	if r.storage != nil {
		apiOpts = append(apiOpts, v1.WithEventStore(r.storage))
	}

	mux := r.server.Router
	mux.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Get("/readyz", r.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Mount("/api/v1", v1.NewHandler(r.runs, r.streams, r.catalog, apiOpts...))
}

// handleReady reports not ready until at least one tool is discovered.
func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	descs, _ := r.catalog.ListTools(req.Context())
	status := http.StatusOK
	state := "ready"
	if len(descs) == 0 && r.toolServers.Load() > 0 {
		status = http.StatusServiceUnavailable
		state = "no tools discovered"
	}
	server.WriteJSON(w, status, map[string]any{"status": state, "tools": len(descs), "active_runs": r.runs.Active()})
}

func buildPolicy(ctx context.Context, cfg *config.Config) (ports.ToolPolicy, error) {
	if !cfg.Policy.Enabled {
		return basic.NewPolicy(), nil
	}
	engine, err := opa.NewEngineFromFile(ctx, cfg.Policy.Path, cfg.Policy.Blocked, cfg.Router.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("create opa policy: %w", err)
	}
	return engine, nil
}

func agentDescriptors(cfgs []config.AgentConfig) []domain.AgentDescriptor {
	agents := make([]domain.AgentDescriptor, 0, len(cfgs))
	for _, a := range cfgs {
		agents = append(agents, domain.AgentDescriptor{
			Name:          a.Name,
			Description:   a.Description,
			Tools:         a.Tools,
			MaxIterations: a.MaxIterations,
		})
	}
	return agents
}

// Handler returns the root HTTP handler. Valid after Start.
func (r *Router) Handler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.server.Router
}

// Runs returns the run coordinator. Valid after Start.
func (r *Router) Runs() *runs.Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs
}

// Shutdown stops accepting requests, cancels in-flight runs, waits for their
// traces to persist and releases every resource.
func (r *Router) Shutdown(ctx context.Context) error {
	// mu is released before waiting so that an in-flight reload can finish.
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("shutting down router")

	var errs []error

	// Runs go first: open streams end with their terminal event only once
	// the runs are cancelled, and the server waits for those handlers.
	if err := r.runs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := r.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}

	r.cancel()
	r.streams.Shutdown()
	r.wg.Wait()

	r.closeResources()

	if r.shutdownTracer != nil {
		if err := r.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}

	r.logger.Info("router shutdown complete")
	return errors.Join(errs...)
}

func (r *Router) closeResources() {
	if r.catalog != nil {
		if err := r.catalog.Close(); err != nil {
			r.logger.Error("failed to close tool catalog", slog.String("error", err.Error()))
		}
	}

	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if r.storage != nil {
		if err := r.storage.Close(); err != nil {
			r.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if r.config != nil {
		if err := r.config.Close(); err != nil {
			r.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}
}

// watchConfig watches for config changes and reloads. It returns once r.ctx
// is done and no reload is in progress.
func (r *Router) watchConfig() {
	onChange := func(newCfg *config.Config) {
		r.logger.Info("config changed, reloading")
		if err := r.reload(newCfg); err != nil {
			r.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := r.config.Watch(r.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies the parts of a new config that can change without a
// restart: API keys and tool servers. Everything else needs a restart.
func (r *Router) reload(cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.ctx.Err() != nil {
		r.logger.Debug("router is not running, ignoring config change")
		return nil
	}

	if reloader, ok := r.auth.(interface{ ReloadFromConfig(config.AuthConfig) error }); ok {
		if err := reloader.ReloadFromConfig(cfg.Auth); err != nil {
			r.logger.Warn("failed to reload auth provider", slog.String("error", err.Error()))
		}
	}

	r.cfg.Tools = cfg.Tools
	r.toolServers.Store(int32(len(cfg.Tools) + len(r.extraTools)))
	err := r.catalog.Replace(r.ctx, r.toolClients(cfg))

	r.logger.Info("reload complete", slog.Int("tool_servers", len(cfg.Tools)+len(r.extraTools)))
	return err
}
