package mcpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcrun/mcprt/jsonrpc"
	"github.com/arcrun/mcprt/mcpserver"
	"github.com/arcrun/mcprt/session"
)

type stubServerInfo struct{}

func (stubServerInfo) ServerInfo() session.ClientInfo {
	return session.ClientInfo{Name: "mcprt-test", Version: "0.0.0"}
}

func (stubServerInfo) ServerCapabilities() json.RawMessage {
	return json.RawMessage(`{"tools":{}}`)
}

func newTestServer(t *testing.T) *mcpserver.Server {
	return mcpserver.New(session.NewMemoryStore(), stubServerInfo{}, zap.NewNop())
}

func postJSON(t *testing.T, handler http.Handler, sessionID string, frame []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(frame))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestInitializeHandshakeEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	mcpserver.RegisterTools(srv.Dispatcher(), stubTools{})
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv)

	initFrame, err := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(1), "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]string{"name": "test-client", "version": "1.0"},
	})
	require.NoError(t, err)

	rec := postJSON(t, mux, "", initFrame)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	msg := jsonrpc.Decode(rec.Body.Bytes())
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)

	var result session.InitializeResult
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	require.Equal(t, "2025-06-18", result.ProtocolVersion)
	require.Equal(t, "mcprt-test", result.ServerInfo.Name)

	// Strict mode: a non-lifecycle call before notifications/initialized
	// is rejected.
	toolsListFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(2), "tools/list", nil)
	rec = postJSON(t, mux, sessionID, toolsListFrame)
	msg = jsonrpc.Decode(rec.Body.Bytes())
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	require.Contains(t, msg.RPCErr.Message, "Session not initialized")

	initializedFrame, _ := jsonrpc.EncodeNotification("notifications/initialized", nil)
	rec = postJSON(t, mux, sessionID, initializedFrame)
	require.Equal(t, http.StatusAccepted, rec.Code)

	pingFrame2, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(3), "ping", nil)
	rec = postJSON(t, mux, sessionID, pingFrame2)
	msg = jsonrpc.Decode(rec.Body.Bytes())
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)
}

func TestLenientModeIsReachableThroughNewOption(t *testing.T) {
	srv := mcpserver.New(session.NewMemoryStore(), stubServerInfo{}, zap.NewNop(), mcpserver.WithLifecycleMode(session.ModeLenient))
	mcpserver.RegisterTools(srv.Dispatcher(), stubTools{})
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv)

	initFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(1), "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
	})
	rec := postJSON(t, mux, "", initFrame)
	sessionID := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	// Lenient mode: tools/list succeeds immediately after initialize,
	// without waiting for notifications/initialized.
	listFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(2), "tools/list", nil)
	rec = postJSON(t, mux, sessionID, listFrame)
	msg := jsonrpc.Decode(rec.Body.Bytes())
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)
}

func TestPingDoesNotRequireInitialization(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv)

	initFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(1), "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
	})
	rec := postJSON(t, mux, "", initFrame)
	sessionID := rec.Header().Get("Mcp-Session-Id")

	pingFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(2), "ping", nil)
	rec = postJSON(t, mux, sessionID, pingFrame)
	msg := jsonrpc.Decode(rec.Body.Bytes())
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)
}

func TestToolsRegistryDelegation(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv)

	mcpserver.RegisterTools(srv.Dispatcher(), stubTools{})

	initFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(1), "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
	})
	rec := postJSON(t, mux, "", initFrame)
	sessionID := rec.Header().Get("Mcp-Session-Id")
	initializedFrame, _ := jsonrpc.EncodeNotification("notifications/initialized", nil)
	postJSON(t, mux, sessionID, initializedFrame)

	listFrame, _ := jsonrpc.EncodeRequest(jsonrpc.NewNumberID(2), "tools/list", nil)
	rec = postJSON(t, mux, sessionID, listFrame)
	msg := jsonrpc.Decode(rec.Body.Bytes())
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)
	require.JSONEq(t, `{"tools":[{"name":"echo"}]}`, string(msg.Result))
}

type stubTools struct{}

func (stubTools) ListTools(ctx context.Context, cursor string) (any, error) {
	return map[string]any{"tools": []map[string]string{{"name": "echo"}}}, nil
}

func (stubTools) CallTool(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	return map[string]any{"content": []map[string]string{{"type": "text", "text": "ok"}}}, nil
}
