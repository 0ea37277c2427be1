package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/arcrun/mcprt/jsonrpc"
	"go.uber.org/zap"
)

// Transport is the client-side mirror of the server's HTTP transport
// (spec.md §4.8): POST JSON-RPC with the header set the server expects,
// capturing Mcp-Session-Id from any response and persisting it into
// subsequent requests. Grounded on the teacher's
// mcpClient.Session.executeSendRequest (marshal, POST, header
// propagation), generalized into a reusable, session-agnostic client.
type Transport struct {
	httpClient      *http.Client
	endpoint        string
	protocolVersion string
	logger          *zap.Logger

	sessionMu sync.RWMutex
	sessionID string

	headersMu sync.RWMutex
	headers   map[string]string

	closed atomic.Bool
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) TransportOption {
	return func(t *Transport) { t.httpClient = hc }
}

// WithHeader sets a static header sent on every request (e.g.
// Authorization).
func WithHeader(key, value string) TransportOption {
	return func(t *Transport) { t.headers[key] = value }
}

// NewTransport builds a Transport targeting endpoint (the MCP server's
// single HTTP path).
func NewTransport(endpoint, protocolVersion string, logger *zap.Logger, opts ...TransportOption) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		httpClient:      http.DefaultClient,
		endpoint:        endpoint,
		protocolVersion: protocolVersion,
		logger:          logger.Named("client.transport"),
		headers:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID returns the session id captured from a prior response, or
// "" if none has been observed yet.
func (t *Transport) SessionID() string {
	t.sessionMu.RLock()
	defer t.sessionMu.RUnlock()
	return t.sessionID
}

// SetSessionID seeds the session id explicitly (e.g. after a manual
// initialize round-trip performed elsewhere).
func (t *Transport) SetSessionID(id string) {
	t.sessionMu.Lock()
	t.sessionID = id
	t.sessionMu.Unlock()
}

func (t *Transport) captureSessionID(resp *http.Response) {
	if id := resp.Header.Get("Mcp-Session-Id"); id != "" {
		t.SetSessionID(id)
	}
}

// rawResponse is what post returns: the raw HTTP response plus its
// already-buffered body, letting callers branch on Content-Type
// (plain JSON vs POST-SSE) without re-reading the network.
type rawResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// post sends one JSON-RPC frame (request or notification) with the
// header set spec.md §4.8 requires: Content-Type, Accept,
// MCP-Protocol-Version, and Mcp-Session-Id once known.
func (t *Transport) post(ctx context.Context, frame []byte) (*rawResponse, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("client: transport closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if t.protocolVersion != "" {
		req.Header.Set("MCP-Protocol-Version", t.protocolVersion)
	}
	if sid := t.SessionID(); sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}

	t.headersMu.RLock()
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	t.headersMu.RUnlock()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: post to %s failed: %w", t.endpoint, err)
	}
	defer resp.Body.Close()
	t.captureSessionID(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("client: post to %s returned status %d: %s", t.endpoint, resp.StatusCode, string(body))
	}

	return &rawResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// PostRequest sends a JSON-RPC request and returns its decoded frame(s):
// a plain-JSON response decodes to exactly one message; a POST-SSE
// response decodes to the notifications and final response interleaved
// in the stream, in arrival order.
func (t *Transport) PostRequest(ctx context.Context, id jsonrpc.ID, method string, params any) ([]*jsonrpc.Message, error) {
	frame, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}
	resp, err := t.post(ctx, frame)
	if err != nil {
		return nil, err
	}
	return decodeResponseBody(resp)
}

// PostNotification sends a JSON-RPC notification; the server replies
// 202 with no body.
func (t *Transport) PostNotification(ctx context.Context, method string, params any) error {
	frame, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return fmt.Errorf("client: encode notification: %w", err)
	}
	_, err = t.post(ctx, frame)
	return err
}

// Close marks the transport unusable for further requests.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}

func decodeResponseBody(resp *rawResponse) ([]*jsonrpc.Message, error) {
	if bytesContains(resp.ContentType, "text/event-stream") {
		return decodeSSEBody(resp.Body)
	}
	return []*jsonrpc.Message{jsonrpc.Decode(resp.Body)}, nil
}

func bytesContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
