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

func TestClientCallReturnsInlineResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msg := jsonrpc.Decode(body)
		w.Header().Set("Content-Type", "application/json")
		frame, _ := jsonrpc.EncodeResult(msg.ID, map[string]any{"pong": true})
		w.Write(frame)
	}))
	defer srv.Close()

	c := client.New(srv.URL, "2025-06-18", nil)
	defer c.Close()

	resp, err := c.Call(t.Context(), jsonrpc.NewNumberID(1), "ping", nil)
	require.NoError(t, err)
	require.Equal(t, jsonrpc.KindResponse, resp.Kind)
	require.JSONEq(t, `{"pong":true}`, string(resp.Result))
}

func TestClientCallRoutesInlineNotificationToQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msg := jsonrpc.Decode(body)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"progress\",\"params\":{\"pct\":50}}\n\n")
		resultFrame, _ := jsonrpc.EncodeResult(msg.ID, map[string]any{"done": true})
		io.WriteString(w, "data: "+string(resultFrame)+"\n\n")
	}))
	defer srv.Close()

	c := client.New(srv.URL, "2025-06-18", nil)
	defer c.Close()

	notifCh := make(chan jsonrpc.Message, 4)
	c.Notifications().Attach(notifCh)

	resp, err := c.Call(t.Context(), jsonrpc.NewNumberID(7), "tools/call", nil)
	require.NoError(t, err)
	require.Equal(t, jsonrpc.KindResponse, resp.Kind)

	select {
	case n := <-notifCh:
		require.Equal(t, "progress", n.Method)
	default:
		t.Fatal("expected the interleaved progress notification to reach the queue")
	}
}

func TestClientInitializeSendsInitializedNotification(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msg := jsonrpc.Decode(body)
		methods = append(methods, msg.Method)

		w.Header().Set("Content-Type", "application/json")
		if msg.Kind == jsonrpc.KindNotification {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		frame, _ := jsonrpc.EncodeResult(msg.ID, map[string]any{"protocolVersion": "2025-06-18"})
		w.Write(frame)
	}))
	defer srv.Close()

	c := client.New(srv.URL, "2025-06-18", nil)
	defer c.Close()

	_, err := c.Initialize(t.Context(), jsonrpc.NewNumberID(1), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, []string{"initialize", "notifications/initialized"}, methods)
}
