package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/session"
	"github.com/arcrun/mcprt/stream"
	"github.com/arcrun/mcprt/transport"
)

type stubServerInfo struct{}

func (stubServerInfo) ServerInfo() session.ClientInfo {
	return session.ClientInfo{Name: "test-server", Version: "0.0.1"}
}
func (stubServerInfo) ServerCapabilities() json.RawMessage { return json.RawMessage(`{}`) }

func newTestTransport(t *testing.T, opts ...transport.Option) (*transport.Transport, *session.Manager) {
	t.Helper()
	logger := zap.NewNop()
	store := session.NewMemoryStore()
	sessions := session.NewManager(store, stubServerInfo{}, logger)
	streams := stream.NewManager(logger)
	d := dispatch.New(transport.ManagerInjector{Manager: sessions}, logger)
	d.Register("ping", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		return map[string]any{}, nil
	}))
	tp := transport.New(sessions, streams, d, logger, opts...)
	return tp, sessions
}

func doJSONRPC(t *testing.T, url, method string, id int, params any, headers map[string]string) *http.Response {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}
	if id != 0 {
		body["id"] = id
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestOptionsAdvertisesAllowedMethods(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	allow := resp.Header.Get("Allow")
	assert.Contains(t, allow, "GET")
	assert.Contains(t, allow, "POST")
	assert.Contains(t, allow, "DELETE")
}

func TestPostInitializeCreatesSessionAndReturnsJSON(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	resp := doJSONRPC(t, srv.URL, "initialize", 1, map[string]any{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]string{"name": "test-client", "version": "1.0"},
		"capabilities":    map[string]any{},
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	sessionID := resp.Header.Get(transport.SessionIDHeader)
	require.NotEmpty(t, sessionID, "initialize response must carry Mcp-Session-Id")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"result"`)
}

func TestPostNotificationReturnsAccepted(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	resp := doJSONRPC(t, srv.URL, "notifications/initialized", 0, nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestPostWrongContentTypeRejected(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "-32600")
}

func TestPostBodyTooLargeReturns413(t *testing.T) {
	tp, _ := newTestTransport(t, transport.WithMaxBodySize(16))
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1,"params":{"padding":"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestGetWithoutSSEAcceptHeaderRejected(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "-32001")
}

func TestGetWithoutSessionHeaderRejected(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "-32002")
}

func TestGetUnknownSessionRejected(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(transport.SessionIDHeader, "does-not-exist")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "-32003")
}

func TestDeleteMissingSessionHeaderIsBadRequest(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteUnknownSessionIsNotFound(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	req.Header.Set(transport.SessionIDHeader, "does-not-exist")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteTerminatesKnownSession(t *testing.T) {
	tp, sessions := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	info, err := sessions.CreateSession(context.Background())
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	req.Header.Set(transport.SessionIDHeader, info.ID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestPostSSEIgnoresSessionManagerGlobalBroadcast guards against the
// POST-SSE relay reading from session.Manager's own channels (which
// Manager.Broadcast fans a notification into for every session at
// once): a handler's stream.Manager.Broadcast addressed to its own
// session must appear in the response, but a concurrent
// session.Manager.Broadcast aimed at every session must not.
func TestPostSSEIgnoresSessionManagerGlobalBroadcast(t *testing.T) {
	logger := zap.NewNop()
	store := session.NewMemoryStore()
	sessions := session.NewManager(store, stubServerInfo{}, logger)
	streams := stream.NewManager(logger)
	d := dispatch.New(transport.ManagerInjector{Manager: sessions}, logger)
	d.Register("tools/call", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		sid, _ := transport.SessionIDFromContext(ctx)
		sessions.Broadcast(ctx, "global/notice", map[string]string{"scope": "every-session"})
		streams.Broadcast(sid, "progress", map[string]string{"scope": "this-session"})
		return map[string]any{}, nil
	}))
	tp := transport.New(sessions, streams, d, logger)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	a, err := sessions.CreateSession(context.Background())
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(transport.SessionIDHeader, a.ID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "this-session", "stream.Manager.Broadcast for this session must reach its POST-SSE response")
	assert.NotContains(t, body, "every-session", "session.Manager.Broadcast must not leak into a POST-SSE response")
}

func TestUnsupportedVerbIsMethodNotAllowed(t *testing.T) {
	tp, _ := newTestTransport(t)
	srv := httptest.NewServer(tp)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
