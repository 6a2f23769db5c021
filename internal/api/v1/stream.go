package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/server"
	"github.com/tjfontaine/agent-router/internal/stream"
)

// subscribe attaches to the live session, or returns the replay of the stored
// trace once the session has been collected.
func (h *Handler) subscribe(r *http.Request, id string) (*stream.Subscription, []domain.StreamEvent, error) {
	if sub, ok := h.streams.SubscribeExisting(id); ok {
		return sub, nil, nil
	}

	proc, err := h.runs.Get(r.Context(), id)
	switch {
	case err == nil && proc.Status.IsTerminal():
		return nil, stream.ReplayEvents(proc), nil
	case err != nil && !domain.IsType(err, domain.ErrorTypeNotFound):
		return nil, nil, err
	}
	// Unknown ids get an unclaimed session so a subscriber may connect
	// before the run is created.
	sub, err := h.streams.Subscribe(id)
	return sub, nil, err
}

// overflowEvent ends a stream whose subscriber fell behind.
func overflowEvent() domain.StreamEvent {
	return domain.NewErrorEvent(domain.ErrorTypeSubscriberOverflow, stream.ErrSubscriberOverflow.Message, nil)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	server.AddLogField(r.Context(), "context_id", id)

	flusher, ok := w.(http.Flusher)
	if !ok {
		server.WriteError(w, r, domain.ErrServer("streaming unsupported"))
		return
	}

	sub, replay, err := h.subscribe(r, id)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if sub == nil {
		for _, ev := range replay {
			if err := stream.WriteSSE(w, ev); err != nil {
				return
			}
		}
		return
	}
	defer sub.Close()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), stream.ErrSubscriberOverflow) {
					_ = stream.WriteSSE(w, overflowEvent())
				}
				return
			}
			if err := stream.WriteSSE(w, ev); err != nil {
				h.logger.Debug("sse write failed", slog.String("context_id", id), slog.String("error", err.Error()))
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	server.AddLogField(r.Context(), "context_id", id)

	sub, replay, err := h.subscribe(r, id)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if sub != nil {
		defer sub.Close()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("context_id", id), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// The read loop only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev domain.StreamEvent) error {
		data, err := stream.Encode(ev)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	closeNormally := func() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
	}

	if sub == nil {
		for _, ev := range replay {
			if err := write(ev); err != nil {
				return
			}
		}
		closeNormally()
		return
	}

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), stream.ErrSubscriberOverflow) {
					_ = write(overflowEvent())
				}
				closeNormally()
				return
			}
			if err := write(ev); err != nil {
				h.logger.Debug("websocket write failed", slog.String("context_id", id), slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
