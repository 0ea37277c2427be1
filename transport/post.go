package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/jsonrpc"
	"github.com/arcrun/mcprt/session"
	"github.com/arcrun/mcprt/stream"
	"go.uber.org/zap"
)

// handlePOST implements spec.md §4.6.1: content-type + size validation,
// JSON-RPC parse, session creation on initialize, dispatch, and
// response emission (plain JSON, 202 for notifications, or POST-SSE).
// Grounded on the teacher's handlePOST (handle-mcp2025-POST.go): read
// body, parse messages, branch on whether the first message is
// "initialize", then on the Accept-header SSE decision.
func (t *Transport) handlePOST(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	if !strings.HasPrefix(headerLower(r, "Content-Type"), contentTypeJSON) {
		writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.InvalidRequest, "Content-Type must be application/json", nil), logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, t.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.ParseError, "failed to read request body", nil), logger)
		return
	}
	defer r.Body.Close()

	msg := jsonrpc.Decode(body)
	if msg.Kind == jsonrpc.KindError {
		writeJSONRPCError(w, msg.RPCErr, logger)
		return
	}

	ctx := r.Context()
	sessionID := r.Header.Get(SessionIDHeader)
	isInitialize := msg.Kind == jsonrpc.KindRequest && msg.Method == "initialize"

	var info *session.Info
	if isInitialize {
		info, err = t.sessions.CreateSession(ctx)
		if err != nil {
			writeJSONRPCError(w, jsonrpc.NewError(jsonrpc.InternalError, "failed to create session: "+err.Error(), nil), logger)
			return
		}
		sessionID = info.ID
		w.Header().Set(SessionIDHeader, sessionID)
	}
	ctx = withSessionID(ctx, sessionID)

	rc := &dispatch.RequestContext{
		SessionID: sessionID,
		Method:    msg.Method,
		Params:    msg.Params,
		Headers:   collectHeaders(r),
	}
	view := newSessionView(t.sessions, sessionID)

	if msg.Kind == jsonrpc.KindNotification {
		t.dispatcher.HandleNotification(ctx, rc, view)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	mode := stream.ClassifyAccept(r.Header.Get("Accept"))
	if t.enablePostSSE && mode.PostSSEEligible() && msg.Method == "tools/call" {
		t.respondPostSSE(ctx, w, rc, msg.ID, sessionID, view, logger)
		return
	}

	resp := t.dispatcher.HandleRequest(ctx, rc, msg.ID, view)
	t.writeJSONRPCMessage(w, resp, logger)
}

// respondPostSSE delivers the response (and any notifications the
// handler broadcasts during its execution) as a one-shot SSE stream. If
// the SSE stream cannot be created (checked before the handler runs) or
// the final event cannot be marshalled, it falls back to a plain JSON
// response rather than leaving the client hanging (spec.md §4.5,
// DESIGN.md Open Question 2: the fallback is silent by design).
func (t *Transport) respondPostSSE(ctx context.Context, w http.ResponseWriter, rc *dispatch.RequestContext, id jsonrpc.ID, sessionID string, view dispatch.SessionView, logger *zap.Logger) {
	if _, err := stream.NewWriter(w); err != nil {
		logger.Warn("POST-SSE stream creation failed, falling back to JSON", zap.Error(err))
		t.writeJSONRPCMessage(w, t.dispatcher.HandleRequest(ctx, rc, id, view), logger)
		return
	}

	notifications := make(chan stream.Event, 8)
	done := make(chan struct{})
	unsubscribe := t.subscribeBroadcast(sessionID, notifications, done)
	defer unsubscribe()

	resp := t.dispatcher.HandleRequest(ctx, rc, id, view)
	close(done)

	finalPayload, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("failed to marshal POST-SSE final event, falling back to JSON", zap.Error(err))
		t.writeJSONRPCMessage(w, resp, logger)
		return
	}
	final := stream.Event{Type: "message", Payload: finalPayload}

	if err := stream.ServePostSSE(w, sessionID, notifications, final); err != nil {
		logger.Warn("POST-SSE framing failed, client likely saw a partial response", zap.Error(err))
	}
}

// subscribeBroadcast relays events addressed to this one session onto a
// local channel for the lifetime of one POST-SSE request. It registers
// a connection on the same stream.Manager registry GET-SSE uses
// (stream.Manager.Broadcast is keyed by session id, unlike
// session.Manager.Broadcast which fans a notification into every
// session at once) so a handler publishing progress during this
// request's tools/call never leaks into any other session's stream.
func (t *Transport) subscribeBroadcast(sessionID string, out chan<- stream.Event, done <-chan struct{}) func() {
	conn := t.streams.Register(sessionID)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case <-done:
				// Forward whatever the handler queued before it returned.
				for {
					select {
					case ev, ok := <-conn.Events():
						if !ok {
							return
						}
						select {
						case out <- ev:
						case <-stop:
							return
						}
					default:
						return
					}
				}
			case ev, ok := <-conn.Events():
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-stop:
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		t.streams.Unregister(sessionID, conn.ID)
	}
}

func (t *Transport) writeJSONRPCMessage(w http.ResponseWriter, msg *jsonrpc.Message, logger *zap.Logger) {
	var data []byte
	var err error
	switch msg.Kind {
	case jsonrpc.KindError:
		data, err = jsonrpc.EncodeError(msg.ID, msg.RPCErr)
	default:
		var raw json.RawMessage = msg.Result
		data, err = jsonrpc.EncodeResult(msg.ID, raw)
	}
	if err != nil {
		logger.Error("failed to encode JSON-RPC response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func collectHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[strings.ToLower(name)] = r.Header.Get(name)
	}
	return headers
}

func isMaxBytesError(err error) bool {
	return strings.Contains(err.Error(), "http: request body too large")
}
