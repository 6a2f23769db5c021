// Package v1 serves the router's HTTP API: run creation, live streams over
// SSE and websocket, cancellation and trace lookup.
package v1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/runs"
	"github.com/tjfontaine/agent-router/internal/server"
	"github.com/tjfontaine/agent-router/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxBodyBytes      = 1 << 20
	keepAliveInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// Runs is the run lifecycle the handlers drive.
type Runs interface {
	Create(ctx context.Context, req runs.CreateRequest) (string, error)
	Cancel(id string) error
	Get(ctx context.Context, id string) (*domain.RouterProcess, error)
	List(ctx context.Context, opts ports.ListOptions) ([]domain.ProcessSummary, error)
	Active() int
}

// Tools lists the tools visible to the router.
type Tools interface {
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
}

// Handler serves /api/v1.
type Handler struct {
	router   *chi.Mux
	runs     Runs
	streams  *stream.Manager
	tools    Tools
	agents   []domain.AgentDescriptor
	events   ports.EventStore
	auth     ports.AuthProvider
	limiter  *server.RateLimiter
	timeout  time.Duration
	validate *validator.Validate
	upgrader websocket.Upgrader
	started  time.Time
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAuth requires a bearer API key on every route.
func WithAuth(p ports.AuthProvider) Option {
	return func(h *Handler) {
		h.auth = p
	}
}

// WithRateLimiter throttles run creation.
func WithRateLimiter(l *server.RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// WithAgents lists the configured agents on /tools.
func WithAgents(agents []domain.AgentDescriptor) Option {
	return func(h *Handler) {
		h.agents = agents
	}
}

// WithEventStore exposes recorded lifecycle events on /runs/{id}/events.
func WithEventStore(s ports.EventStore) Option {
	return func(h *Handler) {
		h.events = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler builds the API router.
func NewHandler(r Runs, streams *stream.Manager, tools Tools, opts ...Option) *Handler {
	h := &Handler{
		router:   chi.NewRouter(),
		runs:     r,
		streams:  streams,
		tools:    tools,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients authenticate with a bearer token, not cookies.
				return true
			},
		},
		started: time.Now(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.router.Use(server.AuthMiddleware(h.auth))

	// Streams are long-lived and must not inherit the request timeout.
	h.router.Get("/runs/{id}/stream", h.handleStream)
	h.router.Get("/runs/{id}/ws", h.handleWebSocket)

	h.router.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(h.timeout))

		r.With(h.rateLimit).Post("/runs", h.handleCreateRun)
		r.Get("/runs/{id}", h.handleGetRun)
		r.Post("/runs/{id}/cancel", h.handleCancelRun)
		r.Get("/runs/{id}/events", h.handleRunEvents)
		r.Get("/traces", h.handleListTraces)
		r.Get("/tools", h.handleListTools)
		r.Get("/stats", h.handleStats)
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Middleware(next)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		server.WriteError(w, r, domain.ErrInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		server.WriteError(w, r, validationError(err))
		return
	}

	prior := make([]domain.ContextMessage, len(req.PreviousContext))
	for i, m := range req.PreviousContext {
		prior[i] = domain.ContextMessage{Role: domain.Role(m.Role), Content: m.Content}
	}

	id, err := h.runs.Create(r.Context(), runs.CreateRequest{
		Question:        req.Question,
		MaxIterations:   req.MaxIterations,
		PreviousContext: prior,
	})
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "context_id", id)
	w.Header().Set("Location", "/api/v1/runs/"+id)
	server.WriteJSON(w, http.StatusAccepted, CreateRunResponse{
		ID:      id,
		Status:  domain.ProcessStatusRunning,
		Message: "run started; subscribe to /api/v1/runs/" + id + "/stream",
	})
}

// validationError turns validator output into a single configuration error
// naming the first offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.ErrInvalidRequest(err.Error())
	}
	fe := verrs[0]
	field := jsonFieldPath(fe.Namespace())
	return domain.ErrInvalidRequest(fmt.Sprintf("%s failed %q validation", field, fe.Tag())).WithParam(field)
}

// jsonFieldPath converts CreateRunRequest.PreviousContext[0].Role to previous_context[0].role.
func jsonFieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	proc, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, proc)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runs.Cancel(id); err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusAccepted, CancelRunResponse{ID: id, Status: "cancelling"})
}

func (h *Handler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		server.WriteError(w, r, domain.ErrNotFound("lifecycle events are not recorded"))
		return
	}
	id := chi.URLParam(r, "id")
	events, err := h.events.ListLifecycleEvents(r.Context(), id)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if len(events) == 0 {
		server.WriteError(w, r, domain.ErrNotFound("run not found"))
		return
	}
	server.WriteJSON(w, http.StatusOK, LifecycleEventsResponse{ContextID: id, Events: events})
}

func (h *Handler) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			offset = v
		}
	}

	summaries, err := h.runs.List(r.Context(), ports.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, ListTracesResponse{Data: summaries, Limit: limit, Offset: offset})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.tools.ListTools(r.Context())
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	agents := h.agents
	if agents == nil {
		agents = []domain.AgentDescriptor{}
	}
	server.WriteJSON(w, http.StatusOK, ListToolsResponse{Tools: tools, Agents: agents})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		ActiveRuns:   h.runs.Active(),
		Sessions:     h.streams.Len(),
		StartedAt:    h.started.UTC(),
	})
}
