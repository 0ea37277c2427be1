package transport

import (
	"errors"
	"net/http"

	"github.com/arcrun/mcprt/session"
	"go.uber.org/zap"
)

// handleDELETE implements spec.md §4.6.3: terminate a session. On a
// found session, close its SSE connections, mark it terminated (and
// touch it so TTL reclaims it), falling back to a hard delete if the
// update fails. Missing header -> 400, unknown session -> 404.
func (t *Transport) handleDELETE(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if !t.sessions.SessionExists(ctx, sessionID) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	t.streams.CloseSession(sessionID)

	if err := t.sessions.Terminate(ctx, sessionID); err != nil {
		logger.Warn("failed to mark session terminated, falling back to hard delete",
			zap.String("session_id", sessionID), zap.Error(err))
		if err := t.sessions.CloseSession(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			logger.Error("hard delete fallback also failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusOK)
}
