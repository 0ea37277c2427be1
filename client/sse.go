package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	v1backoff "gopkg.in/cenkalti/backoff.v1"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/arcrun/mcprt/jsonrpc"
)

// connectionLostMethod is the synthetic notification this client
// synthesizes and pushes into the NotificationQueue whenever the
// long-lived GET-SSE stream drops, before the reconnect loop retries
// (spec.md §4.8: "emit a connection_lost event before reconnecting").
const connectionLostMethod = "connection_lost"

// EventStream is the long-lived, auto-reconnecting GET-SSE subscriber
// (spec.md §4.5/§4.8). Grounded on the teacher's mcpClient.Session.Open
// / processLoop: an r3labs/sse/v2 client configured with an
// exponential-backoff reconnect strategy (the teacher wires its
// ReconnectStrategy against the old gopkg.in/cenkalti/backoff.v1 API,
// which is what the library's field actually expects), feeding events
// into a channel a dedicated goroutine drains. This client additionally
// wraps the whole subscribe-and-drain cycle in its own outer retry loop
// built on the modern github.com/cenkalti/backoff/v4 API, so a
// SubscribeChanWithContext call that fails outright (not merely drops
// mid-stream) is retried too, not just mid-stream reconnects that
// r3labs handles internally.
type EventStream struct {
	endpoint  string
	sseClient *sse.Client
	queue     *NotificationQueue
	logger    *zap.Logger

	onSessionID func(string)
}

// NewEventStream builds an EventStream targeting endpoint. onSessionID,
// if non-nil, is invoked with any Mcp-Session-Id observed on the
// initial SSE handshake response.
func NewEventStream(endpoint string, queue *NotificationQueue, logger *zap.Logger, onSessionID func(string)) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	sseClient := sse.NewClient(endpoint)
	sseClient.Headers["Accept"] = "text/event-stream"
	sseClient.Headers["Cache-Control"] = "no-cache"

	return &EventStream{
		endpoint:    endpoint,
		sseClient:   sseClient,
		queue:       queue,
		logger:      logger.Named("client.sse"),
		onSessionID: onSessionID,
	}
}

// SetHeader sets a static header sent with the SSE handshake (e.g.
// Mcp-Session-Id, Authorization).
func (e *EventStream) SetHeader(key, value string) {
	e.sseClient.Headers[key] = value
}

// Run subscribes to the event stream and blocks, redelivering events
// into the NotificationQueue until ctx is cancelled. Both the inner
// r3labs reconnect (transient drops) and the outer backoff/v4 retry
// (a subscribe call failing outright) apply exponential backoff with
// no elapsed-time ceiling; only ctx cancellation stops retrying.
func (e *EventStream) Run(ctx context.Context) error {
	innerBackoff := v1backoff.NewExponentialBackOff()
	innerBackoff.MaxElapsedTime = 0
	e.sseClient.ReconnectStrategy = v1backoff.WithContext(innerBackoff, ctx)
	e.sseClient.ReconnectNotify = func(err error, d time.Duration) {
		e.logger.Warn("SSE connection lost, reconnecting", zap.Error(err), zap.Duration("delay", d))
		e.queue.Push(connectionLostNotification(err))
	}

	outer := backoff.NewExponentialBackOff()
	outer.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		events := make(chan *sse.Event, 64)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := e.sseClient.SubscribeChanWithContext(subCtx, "", events); err != nil {
			e.logger.Warn("SSE subscribe failed, retrying", zap.Error(err))
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case ev, ok := <-events:
				if !ok {
					return fmt.Errorf("client: SSE event channel closed")
				}
				e.handleEvent(ev)
			}
		}
	}, backoff.WithContext(outer, ctx))
}

func (e *EventStream) handleEvent(ev *sse.Event) {
	switch strings.TrimSpace(string(ev.Event)) {
	case "", "message":
		if len(ev.Data) == 0 {
			return
		}
		msg := jsonrpc.Decode(ev.Data)
		e.queue.Push(*msg)
	case "ping":
		e.logger.Debug("SSE ping")
	default:
		e.logger.Debug("unhandled SSE event type", zap.String("event", string(ev.Event)))
	}
}

func connectionLostNotification(cause error) jsonrpc.Message {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	params, _ := json.Marshal(map[string]string{"reason": reason})
	return jsonrpc.Message{
		Kind:   jsonrpc.KindNotification,
		Method: connectionLostMethod,
		Params: params,
	}
}

// decodeSSEBody parses a buffered POST-SSE response body (spec.md
// §4.4: a one-shot SSE stream terminated when the connection closes,
// rather than a long-lived subscription) into its constituent
// JSON-RPC frames, in arrival order. Grounded on the same "data:"/
// "event:" line framing r3labs/sse/v2 parses for the long-lived case,
// reimplemented here against a fully-buffered body since no live
// subscription is involved.
func decodeSSEBody(body []byte) ([]*jsonrpc.Message, error) {
	var msgs []*jsonrpc.Message
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		msgs = append(msgs, jsonrpc.Decode([]byte(data)))
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, ":"):
			// Event type / id / comment lines carry no JSON-RPC payload of
			// their own; only "data:" lines matter for frame extraction.
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("client: scan SSE body: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("client: empty SSE response body")
	}
	return msgs, nil
}

// httpClientFor is a small seam letting tests substitute a custom
// *http.Client into the SSE client without reaching into sse.Client's
// internals directly.
func httpClientFor(c *sse.Client, hc *http.Client) {
	c.Connection = hc
}
