// Package client implements the MCP client runtime: the HTTP transport
// mirroring the server's Streamable HTTP endpoint, the long-lived
// reconnecting SSE subscriber, and request/response correlation across
// both (spec.md §4.8).
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/arcrun/mcprt/jsonrpc"
)

// Client is the top-level client runtime: one Transport for POSTed
// requests/notifications, one NotificationQueue buffering out-of-band
// server notifications, and (once Listen is called) one EventStream
// keeping a long-lived GET subscription alive in the background.
// Grounded on the teacher's mcpClient.Session, which plays the same
// role binding transport, SSE, and pending-request bookkeeping
// together — generalized here to the spec's own wire format instead of
// the teacher's schema package.
type Client struct {
	transport *Transport
	queue     *NotificationQueue
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Message

	stream       *EventStream
	streamCancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithClientHTTPClient overrides the http.Client used for POST requests
// and, once Listen is called, the SSE subscription's own connection.
func WithClientHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.transport.httpClient = hc
		if c.stream != nil {
			httpClientFor(c.stream.sseClient, hc)
		}
	}
}

// WithNotificationQueueCapacity overrides the default notification
// backlog capacity.
func WithNotificationQueueCapacity(n int) Option {
	return func(c *Client) { c.queue = NewNotificationQueue(n) }
}

// New builds a Client targeting endpoint, the MCP server's single HTTP
// path used for both POST and GET.
func New(endpoint, protocolVersion string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("client")

	c := &Client{
		queue:   NewNotificationQueue(0),
		logger:  logger,
		pending: make(map[string]chan *jsonrpc.Message),
	}
	c.transport = NewTransport(endpoint, protocolVersion, logger)
	c.stream = NewEventStream(endpoint, c.queue, logger, c.transport.SetSessionID)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the session id captured from the server, or "" if
// none has been observed yet.
func (c *Client) SessionID() string { return c.transport.SessionID() }

// Listen starts the long-lived GET-SSE subscription in the background.
// It runs until ctx is cancelled or Close is called; reconnects happen
// transparently. Call after the session id is known (i.e. after
// Initialize), since the stream carries it as a header.
func (c *Client) Listen(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.streamCancel = cancel
	c.mu.Unlock()

	if sid := c.SessionID(); sid != "" {
		c.stream.SetHeader("Mcp-Session-Id", sid)
	}

	go func() {
		if err := c.stream.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("event stream terminated", zap.Error(err))
		}
	}()
}

// Notifications returns the queue server-pushed notifications and
// out-of-band responses arrive on. Attach a channel with
// (*NotificationQueue).Attach to receive them.
func (c *Client) Notifications() *NotificationQueue { return c.queue }

// Call sends a JSON-RPC request and waits for its correlated response on
// the POST reply (plain JSON or a POST-SSE body). Messages arriving over
// the GET-SSE stream are not matched to a pending Call; they go to the
// notification queue.
func (c *Client) Call(ctx context.Context, id jsonrpc.ID, method string, params any) (*jsonrpc.Message, error) {
	wait := make(chan *jsonrpc.Message, 1)
	key := id.String()

	c.mu.Lock()
	c.pending[key] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	msgs, err := c.transport.PostRequest(ctx, id, method, params)
	if err != nil {
		return nil, err
	}

	for _, msg := range msgs {
		if msg.Kind == jsonrpc.KindNotification || msg.Method == connectionLostMethod {
			c.queue.Push(*msg)
			continue
		}
		if msg.ID.String() == key {
			return msg, nil
		}
		// A response correlated to some other in-flight call arrived on
		// this POST's SSE stream; route it to its own waiter.
		c.deliver(msg)
	}

	select {
	case msg := <-wait:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a JSON-RPC notification; it expects no response.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.transport.PostNotification(ctx, method, params)
}

func (c *Client) deliver(msg *jsonrpc.Message) {
	c.mu.Lock()
	wait, ok := c.pending[msg.ID.String()]
	c.mu.Unlock()
	if ok {
		select {
		case wait <- msg:
		default:
		}
		return
	}
	c.queue.Push(*msg)
}

// Close stops the background GET-SSE subscription, if running, and
// closes the HTTP transport.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.streamCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.transport.Close()
}

// Initialize performs the MCP initialize handshake and, on success,
// sends the initialized notification per spec.md §4.3.
func (c *Client) Initialize(ctx context.Context, id jsonrpc.ID, params any) (*jsonrpc.Message, error) {
	resp, err := c.Call(ctx, id, "initialize", params)
	if err != nil {
		return nil, fmt.Errorf("client: initialize: %w", err)
	}
	if resp.Kind == jsonrpc.KindError {
		return resp, fmt.Errorf("client: initialize rejected: %s", resp.RPCErr.Error())
	}
	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("client: notifications/initialized: %w", err)
	}
	return resp, nil
}
