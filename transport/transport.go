// Package transport implements the single HTTP handler for the MCP
// endpoint: verb routing, header parsing, body-size enforcement, and
// wiring the dispatcher and stream manager together into HTTP
// responses.
package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/jsonrpc"
	"github.com/arcrun/mcprt/session"
	"github.com/arcrun/mcprt/stream"
	"go.uber.org/zap"
)

const (
	// SessionIDHeader carries the Mcp-Session-Id on both request and
	// response, named for the canonical casing per spec.md §4.6.
	SessionIDHeader = "Mcp-Session-Id"
	// ProtocolVersionHeader carries MCP-Protocol-Version on the request.
	ProtocolVersionHeader = "MCP-Protocol-Version"
	// LastEventIDHeader resumes an SSE stream from a prior event id.
	LastEventIDHeader = "Last-Event-ID"

	contentTypeJSON = "application/json"
)

// Transport is the single http.Handler for the MCP endpoint, supporting
// POST/GET/DELETE/OPTIONS per spec.md §4.6. Grounded on the teacher's
// transport.Transport.HandleMCP (a verb-switch HandlerFunc) and
// getSession (session lookup/creation with explicit allowCreate flag).
type Transport struct {
	sessions   *session.Manager
	streams    *stream.Manager
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	path          string
	maxBodySize   int64
	enableGetSSE  bool
	enablePostSSE bool
	cors          CORSConfig
}

// CORSConfig controls the CORS headers emitted on OPTIONS preflight and
// on every response, mirroring the teacher's inline
// Access-Control-Allow-* header calls.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

// Option configures a Transport.
type Option func(*Transport)

// WithPath overrides the default "/mcp" endpoint path.
func WithPath(path string) Option {
	return func(t *Transport) { t.path = path }
}

// WithMaxBodySize sets the maximum accepted POST body size in bytes
// (spec.md §4.6.1, 413 on overflow). Default 1 MiB.
func WithMaxBodySize(n int64) Option {
	return func(t *Transport) { t.maxBodySize = n }
}

// WithGetSSE enables the GET-SSE long-lived stream endpoint.
func WithGetSSE(enabled bool) Option {
	return func(t *Transport) { t.enableGetSSE = enabled }
}

// WithPostSSE enables POST-SSE single-request streaming.
func WithPostSSE(enabled bool) Option {
	return func(t *Transport) { t.enablePostSSE = enabled }
}

// WithCORS configures CORS header emission.
func WithCORS(cfg CORSConfig) Option {
	return func(t *Transport) { t.cors = cfg }
}

// New constructs a Transport wiring the session manager, stream
// manager, and dispatcher together.
func New(sessions *session.Manager, streams *stream.Manager, dispatcher *dispatch.Dispatcher, logger *zap.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		sessions:      sessions,
		streams:       streams,
		dispatcher:    dispatcher,
		logger:        logger.Named("transport"),
		path:          "/mcp",
		maxBodySize:   1 << 20,
		enableGetSSE:  true,
		enablePostSSE: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Path returns the endpoint path this Transport should be mounted at.
func (t *Transport) Path() string { return t.path }

// ServeHTTP implements http.Handler, routing by verb per spec.md §4.6.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.applyCORS(w)
	logger := t.logger.With(zap.String("method", r.Method), zap.String("remote_addr", r.RemoteAddr))

	switch r.Method {
	case http.MethodOptions:
		t.handleOptions(w)
	case http.MethodPost:
		t.handlePOST(w, r, logger)
	case http.MethodGet:
		t.handleGET(w, r, logger)
	case http.MethodDelete:
		t.handleDELETE(w, r, logger)
	default:
		logger.Warn("method not allowed")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (t *Transport) applyCORS(w http.ResponseWriter) {
	if !t.cors.Enabled {
		return
	}
	if t.cors.AllowedOrigins != "" {
		w.Header().Set("Access-Control-Allow-Origin", t.cors.AllowedOrigins)
	}
	if t.cors.AllowedMethods != "" {
		w.Header().Set("Access-Control-Allow-Methods", t.cors.AllowedMethods)
	}
	if t.cors.AllowedHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", t.cors.AllowedHeaders)
	}
}

func (t *Transport) handleOptions(w http.ResponseWriter) {
	w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func headerLower(r *http.Request, name string) string {
	return strings.ToLower(r.Header.Get(name))
}

func writeJSONRPCError(w http.ResponseWriter, rpcErr *jsonrpc.Error, logger *zap.Logger) {
	data, err := jsonrpc.EncodeError(jsonrpc.ID{}, rpcErr)
	if err != nil {
		logger.Error("failed to encode JSON-RPC error response", zap.Error(err))
		http.Error(w, rpcErr.Message, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseLastEventID(r *http.Request) uint64 {
	raw := r.Header.Get(LastEventIDHeader)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// sessionIDKey is the context key under which withSessionID stashes the
// session id on the request context, for downstream handlers that need
// it without re-parsing headers.
type sessionIDKey struct{}

func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext retrieves the session id a transport handler
// stashed on the request context, for use by mcpserver handlers.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey{}).(string)
	return v, ok
}
