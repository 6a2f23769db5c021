package domain

// EventType identifies a stream event delivered to session subscribers.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventIterationUpdate EventType = "iteration_update"
	EventFinalResponse   EventType = "final_response"
	EventError           EventType = "error"
)

// IsTerminal reports whether the event ends a well-formed stream.
func (t EventType) IsTerminal() bool {
	return t == EventFinalResponse || t == EventError
}

// StreamEvent is one frame of a session stream. On the wire it is encoded as
// data: {"type": ..., "data": ...}
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ConnectedData is the payload of a connected event.
type ConnectedData struct {
	ContextID string `json:"context_id"`
}

// ErrorEventData is the payload of an error event.
type ErrorEventData struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Process *RouterProcess `json:"process,omitempty"`
}

// NewConnectedEvent builds the acknowledgement sent first on every subscription.
func NewConnectedEvent(contextID string) StreamEvent {
	return StreamEvent{Type: EventConnected, Data: ConnectedData{ContextID: contextID}}
}

// NewIterationEvent wraps a completed iteration.
func NewIterationEvent(it RouterIteration) StreamEvent {
	return StreamEvent{Type: EventIterationUpdate, Data: it}
}

// NewFinalEvent wraps a terminal process. Cancelled runs are reported as final
// responses carrying the cancelled status.
func NewFinalEvent(p *RouterProcess) StreamEvent {
	return StreamEvent{Type: EventFinalResponse, Data: p}
}

// NewErrorEvent builds a terminal error event.
func NewErrorEvent(errType ErrorType, message string, p *RouterProcess) StreamEvent {
	return StreamEvent{Type: EventError, Data: ErrorEventData{Type: errType, Message: message, Process: p}}
}

// TerminalEvent picks the terminal event matching the process state.
func TerminalEvent(p *RouterProcess) StreamEvent {
	if p.Status == ProcessStatusFailed {
		return NewErrorEvent(p.ErrorType, p.Error, p)
	}
	return NewFinalEvent(p)
}
