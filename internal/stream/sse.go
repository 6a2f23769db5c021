package stream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode renders ev as JSON: {"type": ..., "data": ...}.
func Encode(ev domain.StreamEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// FormatSSE renders ev as one server-sent-events frame.
func FormatSSE(ev domain.StreamEvent) ([]byte, error) {
	data, err := Encode(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	var b bytes.Buffer
	b.Grow(len(data) + 8)
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.Bytes(), nil
}

// WriteSSE writes one frame and flushes when w supports it.
func WriteSSE(w io.Writer, ev domain.StreamEvent) error {
	frame, err := FormatSSE(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// ReplayEvents reconstructs the event sequence of a finished trace, for
// subscribers arriving after the live session was collected.
func ReplayEvents(p *domain.RouterProcess) []domain.StreamEvent {
	events := make([]domain.StreamEvent, 0, len(p.IterationHistory)+2)
	events = append(events, domain.NewConnectedEvent(p.ContextID))
	for _, it := range p.IterationHistory {
		events = append(events, domain.NewIterationEvent(it))
	}
	if p.Status.IsTerminal() {
		events = append(events, domain.TerminalEvent(p))
	}
	return events
}
