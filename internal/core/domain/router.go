package domain

import (
	"time"
)

// Role identifies the speaker of a prior conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextMessage is one prior conversation turn carried into a run.
type ContextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Question is the immutable input of a run.
type Question struct {
	Text            string           `json:"question"`
	PreviousContext []ContextMessage `json:"previous_context,omitempty"`
}

// ProcessStatus is the lifecycle state of a RouterProcess.
type ProcessStatus string

const (
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
	ProcessStatusCancelled ProcessStatus = "cancelled"
)

// IsTerminal reports whether no further iterations can be appended.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessStatusCompleted, ProcessStatusFailed, ProcessStatusCancelled:
		return true
	default:
		return false
	}
}

// CallType tags whether a tool call targets a raw tool or a nested sub-agent.
type CallType string

const (
	CallTypeTool  CallType = "tool"
	CallTypeAgent CallType = "agent"
)

// ToolCallWithResult is one requested call and, once executed, its textual result.
type ToolCallWithResult struct {
	Function string         `json:"function"`
	Args     map[string]any `json:"args"`
	Type     CallType       `json:"type"`

	// Result is populated after execution, never before.
	Result string `json:"result,omitempty"`

	// Error marks Result as an error indicator rather than a tool observation.
	Error bool `json:"error,omitempty"`

	DurationMS int64 `json:"duration_ms,omitempty"`

	// InternalRouterProcess is the child trace for agent calls. It is owned by
	// the iteration that created it.
	InternalRouterProcess *RouterProcess `json:"internal_router_process,omitempty"`
}

// StructuredThought is the machine-readable half of a thought.
type StructuredThought struct {
	FunctionCalls []ToolCallWithResult `json:"function_calls"`
	IsFinished    bool                 `json:"is_finished"`
}

// RouterIteration is one reason -> act -> observe step. Immutable once appended.
type RouterIteration struct {
	Iteration              int               `json:"iteration"`
	NaturalLanguageThought string            `json:"natural_language_thought"`
	StructuredThought      StructuredThought `json:"structured_thought"`

	// Response is the observation summary fed into the next iteration.
	Response string `json:"response"`

	// Answer is the model's textual answer for this step, if it gave one.
	Answer string `json:"answer,omitempty"`
}

// RouterProcess is the aggregate trace of one run.
type RouterProcess struct {
	ContextID        string            `json:"context_id"`
	Question         string            `json:"question"`
	PreviousContext  []ContextMessage  `json:"previous_context,omitempty"`
	MaxIterations    int               `json:"max_iterations"`
	IterationHistory []RouterIteration `json:"iteration_history"`
	Status           ProcessStatus     `json:"status"`
	Response         string            `json:"response,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorType        ErrorType         `json:"error_type,omitempty"`

	// Depth is 0 for root runs and grows by one per nested agent call.
	Depth int `json:"depth,omitempty"`

	// PersistenceDegraded is set when the trace could not be saved.
	PersistenceDegraded bool `json:"persistence_degraded,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRouterProcess initializes a running process with an empty history.
func NewRouterProcess(contextID string, q Question, maxIterations int) *RouterProcess {
	return &RouterProcess{
		ContextID:        contextID,
		Question:         q.Text,
		PreviousContext:  q.PreviousContext,
		MaxIterations:    maxIterations,
		IterationHistory: make([]RouterIteration, 0, maxIterations),
		Status:           ProcessStatusRunning,
		CreatedAt:        time.Now().UTC(),
	}
}

// LastIteration returns the most recent iteration, or nil before the first one.
func (p *RouterProcess) LastIteration() *RouterIteration {
	if len(p.IterationHistory) == 0 {
		return nil
	}
	return &p.IterationHistory[len(p.IterationHistory)-1]
}

// Complete marks the process successful with the given response.
func (p *RouterProcess) Complete(response string) {
	p.finish(ProcessStatusCompleted)
	p.Response = response
	p.Error = ""
}

// Fail marks the process failed with the given error.
func (p *RouterProcess) Fail(err error) {
	p.finish(ProcessStatusFailed)
	p.Response = ""
	p.Error = err.Error()
	p.ErrorType = ErrorTypeOf(err)
	if p.ErrorType == "" {
		p.ErrorType = ErrorTypeServer
	}
}

// Cancel marks the process cancelled. Neither Response nor Error is set.
func (p *RouterProcess) Cancel() {
	p.finish(ProcessStatusCancelled)
	p.Response = ""
	p.Error = ""
}

func (p *RouterProcess) finish(status ProcessStatus) {
	now := time.Now().UTC()
	p.Status = status
	p.CompletedAt = &now
}

// Clone returns a deep copy so a snapshot can be handed to readers while the
// owning run keeps appending.
func (p *RouterProcess) Clone() *RouterProcess {
	if p == nil {
		return nil
	}
	c := *p
	c.PreviousContext = append([]ContextMessage(nil), p.PreviousContext...)
	c.IterationHistory = make([]RouterIteration, len(p.IterationHistory))
	for i, it := range p.IterationHistory {
		c.IterationHistory[i] = it.clone()
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (it RouterIteration) clone() RouterIteration {
	c := it
	c.StructuredThought.FunctionCalls = make([]ToolCallWithResult, len(it.StructuredThought.FunctionCalls))
	for i, call := range it.StructuredThought.FunctionCalls {
		cc := call
		if call.Args != nil {
			cc.Args = make(map[string]any, len(call.Args))
			for k, v := range call.Args {
				cc.Args[k] = v
			}
		}
		cc.InternalRouterProcess = call.InternalRouterProcess.Clone()
		c.StructuredThought.FunctionCalls[i] = cc
	}
	return c
}

// ProcessSummary is the list view of a stored trace.
type ProcessSummary struct {
	ContextID      string        `json:"context_id"`
	Question       string        `json:"question"`
	Status         ProcessStatus `json:"status"`
	IterationCount int           `json:"iteration_count"`
	MaxIterations  int           `json:"max_iterations"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Summary derives the list view of the process.
func (p *RouterProcess) Summary() ProcessSummary {
	updated := p.CreatedAt
	if p.CompletedAt != nil {
		updated = *p.CompletedAt
	}
	return ProcessSummary{
		ContextID:      p.ContextID,
		Question:       p.Question,
		Status:         p.Status,
		IterationCount: len(p.IterationHistory),
		MaxIterations:  p.MaxIterations,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      updated,
	}
}
