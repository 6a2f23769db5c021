package v1

import (
	"time"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Question        string           `json:"question" validate:"max=16000"`
	MaxIterations   *int             `json:"max_iterations,omitempty"`
	PreviousContext []ContextMessage `json:"previous_context,omitempty" validate:"max=200,dive"`
}

// ContextMessage is one prior turn in a CreateRunRequest.
type ContextMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// CreateRunResponse is returned before the first iteration runs.
type CreateRunResponse struct {
	ID      string               `json:"id"`
	Status  domain.ProcessStatus `json:"status"`
	Message string               `json:"message"`
}

// CancelRunResponse acknowledges a cancellation request.
type CancelRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ListTracesResponse pages through stored traces.
type ListTracesResponse struct {
	Data   []domain.ProcessSummary `json:"data"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// ListToolsResponse lists discovered tools and configured agents.
type ListToolsResponse struct {
	Tools  []domain.ToolDescriptor  `json:"tools"`
	Agents []domain.AgentDescriptor `json:"agents"`
}

// LifecycleEventsResponse lists the recorded lifecycle events of a run.
type LifecycleEventsResponse struct {
	ContextID string                   `json:"context_id"`
	Events    []*domain.LifecycleEvent `json:"events"`
}

type StatsResponse struct {
	Uptime       string    `json:"uptime"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	ActiveRuns   int       `json:"active_runs"`
	Sessions     int       `json:"sessions"`
	StartedAt    time.Time `json:"started_at"`
}
