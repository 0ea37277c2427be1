package stream

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ServeGET runs the long-lived GET-SSE connection for a session: it
// writes the SSE headers, replays buffered events newer than
// lastEventID, then forwards live events from the connection's queue
// until the request context is cancelled, at which point the connection
// unregisters itself. Grounded on the teacher's responseToStream loop
// (select over ctx.Done / ticker / output channel), generalized to run
// against the registry instead of a single session's ad hoc channel.
func (m *Manager) ServeGET(ctx context.Context, w http.ResponseWriter, sessionID string, lastEventID uint64, logger *zap.Logger) error {
	if logger == nil {
		logger = m.logger
	}
	sw, err := NewWriter(w)
	if err != nil {
		return err
	}

	conn := m.Register(sessionID)
	defer m.Unregister(sessionID, conn.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, ev := range m.Replay(sessionID, lastEventID) {
		if err := sw.WriteEvent(ev); err != nil {
			return err
		}
	}

	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.RunHeartbeat(heartbeatCtx, sw)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("GET-SSE connection closed by client", zap.String("session_id", sessionID), zap.String("connection_id", conn.ID))
			return nil
		case ev, ok := <-conn.Events():
			if !ok {
				return nil
			}
			if err := sw.WriteEvent(ev); err != nil {
				logger.Warn("failed writing SSE event, dropping connection", zap.Error(err))
				return err
			}
			if ev.Type == connectionLostEventType {
				return nil
			}
		}
	}
}

// ServePostSSE delivers a single request/response exchange as a
// short-lived SSE stream: every event pushed onto notifications is
// forwarded as it arrives, and final is written as the terminating
// event before the stream closes (spec.md §4.5 "POST-SSE"). The caller
// is responsible for closing the notifications channel once the
// handler finishes and computing final.
func ServePostSSE(w http.ResponseWriter, sessionID string, notifications <-chan Event, final Event) error {
	sw, err := NewWriter(w)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}
	w.WriteHeader(http.StatusOK)

	for ev := range notifications {
		if err := sw.WriteEvent(ev); err != nil {
			return err
		}
	}
	return sw.WriteEvent(final)
}
