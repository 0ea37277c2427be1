package transport

import (
	"net/http"
	"strings"

	"github.com/arcrun/mcprt/jsonrpc"
	"go.uber.org/zap"
)

// handleGET implements spec.md §4.6.2: Accept-header check, feature
// flag check, session-id requirement, session existence check (no
// auto-create), then hand off to the stream manager's long-lived
// GET-SSE loop.
func (t *Transport) handleGET(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	if !strings.Contains(headerLower(r, "Accept"), "text/event-stream") {
		writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.Unauthenticated, "Accept header must include text/event-stream", nil), logger)
		return
	}
	if !t.enableGetSSE {
		writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.RateLimitExceeded, "GET-SSE is disabled on this server", nil), logger)
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.Unauthorized, "Mcp-Session-Id header is required", nil), logger)
		return
	}
	if !t.sessions.SessionExists(r.Context(), sessionID) {
		writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.RateLimitExceeded, "unknown session", nil), logger)
		return
	}

	lastEventID := parseLastEventID(r)
	if err := t.streams.ServeGET(r.Context(), w, sessionID, lastEventID, logger); err != nil {
		logger.Warn("GET-SSE stream ended with error", zap.String("session_id", sessionID), zap.Error(err))
	}
}
