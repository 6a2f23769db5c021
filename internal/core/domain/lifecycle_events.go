package domain

import (
	"time"
)

// LifecycleEvent represents a high-level lifecycle event for a run.
// These events are published to event publishers for decoupled consumers (audit log, analytics).
// This is distinct from StreamEvent which is delivered to live subscribers.
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	ContextID string             `json:"context_id"`
	Timestamp time.Time          `json:"timestamp"`
	Data      any                `json:"data,omitempty"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	LifecycleEventStarted   LifecycleEventType = "run.started"
	LifecycleEventIteration LifecycleEventType = "run.iteration"
	LifecycleEventCompleted LifecycleEventType = "run.completed"
	LifecycleEventFailed    LifecycleEventType = "run.failed"
	LifecycleEventCancelled LifecycleEventType = "run.cancelled"
	LifecycleEventDegraded  LifecycleEventType = "run.persistence_degraded"
)

// LifecycleStartedData contains data for run.started events.
type LifecycleStartedData struct {
	Question      string `json:"question"`
	MaxIterations int    `json:"max_iterations"`
	Reasoner      string `json:"reasoner"`
}

// LifecycleIterationData contains data for run.iteration events.
type LifecycleIterationData struct {
	Iteration int  `json:"iteration"`
	ToolCalls int  `json:"tool_calls"`
	Finished  bool `json:"finished"`
}

// LifecycleFinishedData contains data for run.completed, run.failed and run.cancelled events.
type LifecycleFinishedData struct {
	Status     ProcessStatus `json:"status"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// LifecycleEventForStatus maps a terminal status to its lifecycle event type.
func LifecycleEventForStatus(s ProcessStatus) LifecycleEventType {
	switch s {
	case ProcessStatusFailed:
		return LifecycleEventFailed
	case ProcessStatusCancelled:
		return LifecycleEventCancelled
	default:
		return LifecycleEventCompleted
	}
}
