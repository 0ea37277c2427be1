package client_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcrun/mcprt/client"
	"github.com/arcrun/mcprt/jsonrpc"
)

func TestTransportPostRequestCapturesSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "2025-06-18", r.Header.Get("MCP-Protocol-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		msg := jsonrpc.Decode(body)
		require.Equal(t, jsonrpc.KindRequest, msg.Kind)
		require.Equal(t, "ping", msg.Method)

		w.Header().Set("Mcp-Session-Id", "sess-123")
		w.Header().Set("Content-Type", "application/json")
		frame, err := jsonrpc.EncodeResult(msg.ID, map[string]any{})
		require.NoError(t, err)
		w.Write(frame)
	}))
	defer srv.Close()

	tr := client.NewTransport(srv.URL, "2025-06-18", nil)
	require.Empty(t, tr.SessionID())

	msgs, err := tr.PostRequest(t.Context(), jsonrpc.NewNumberID(1), "ping", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, jsonrpc.KindResponse, msgs[0].Kind)
	require.Equal(t, "sess-123", tr.SessionID())
}

func TestTransportPostRequestReusesCapturedSessionID(t *testing.T) {
	var sawSessionHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSessionHeader = r.Header.Get("Mcp-Session-Id")
		w.Header().Set("Content-Type", "application/json")
		body, _ := io.ReadAll(r.Body)
		msg := jsonrpc.Decode(body)
		frame, _ := jsonrpc.EncodeResult(msg.ID, map[string]any{})
		w.Write(frame)
	}))
	defer srv.Close()

	tr := client.NewTransport(srv.URL, "2025-06-18", nil)
	tr.SetSessionID("preexisting")

	_, err := tr.PostRequest(t.Context(), jsonrpc.NewNumberID(1), "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "preexisting", sawSessionHeader)
}

func TestTransportPostNotificationExpectsNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		msg := jsonrpc.Decode(body)
		require.Equal(t, jsonrpc.KindNotification, msg.Kind)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := client.NewTransport(srv.URL, "2025-06-18", nil)
	err := tr.PostNotification(t.Context(), "notifications/initialized", nil)
	require.NoError(t, err)
}

func TestTransportNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := client.NewTransport(srv.URL, "2025-06-18", nil)
	_, err := tr.PostRequest(t.Context(), jsonrpc.NewNumberID(1), "ping", nil)
	require.Error(t, err)
}

func TestTransportClosedRejectsFurtherRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tr := client.NewTransport(srv.URL, "2025-06-18", nil)
	require.NoError(t, tr.Close())

	_, err := tr.PostRequest(t.Context(), jsonrpc.NewNumberID(1), "ping", nil)
	require.Error(t, err)
}
