package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arcrun/mcprt/jsonrpc"
	"go.uber.org/zap"
)

// RequestContext is the mutable context middleware and handlers observe:
// method name, raw params, and request headers lowered to a map
// (spec.md §4.2).
type RequestContext struct {
	SessionID string
	Method    string
	Params    json.RawMessage
	Headers   map[string]string
}

// SessionView abstracts the session store for middleware that needs
// read access without depending on the session package directly,
// keeping dispatch decoupled from session's storage concerns.
type SessionView interface {
	GetState(ctx context.Context, key string) (json.RawMessage, bool, error)
	GetMetadata(ctx context.Context, key string) (json.RawMessage, bool, error)
}

// SessionInjection is a patch a middleware's Before stage may return,
// applied to the session store before the handler runs.
type SessionInjection struct {
	State    map[string]json.RawMessage
	Metadata map[string]json.RawMessage
}

// Middleware is a before/after dispatch pipeline stage (spec.md §4.2).
type Middleware interface {
	Before(ctx context.Context, rc *RequestContext, session SessionView) (*SessionInjection, error)
	After(ctx context.Context, rc *RequestContext, session SessionView, handlerErr error)
}

// Handler handles one JSON-RPC method.
type Handler interface {
	Handle(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) { return f(ctx, req) }

// Request is what a Handler receives: the decoded JSON-RPC id/params
// plus the RequestContext middleware may have annotated.
type Request struct {
	ID      jsonrpc.ID
	Context *RequestContext
}

// Injector applies a SessionInjection to the real session store; the
// dispatcher depends on this narrow interface rather than the full
// session.Store so it never imports the session package.
type Injector interface {
	Apply(ctx context.Context, sessionID string, inj *SessionInjection) error
}

// Dispatcher owns the method registry and middleware pipeline
// (spec.md §4.2). Grounded on the teacher's shared.Input: a
// sync.Map-backed method -> handler registry, a not-found fallback, and
// per-message panic recovery around handler execution.
type Dispatcher struct {
	handlers   sync.Map // method string -> Handler
	middleware []Middleware
	injector   Injector
	logger     *zap.Logger
}

// New constructs an empty Dispatcher.
func New(injector Injector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{injector: injector, logger: logger.Named("dispatch")}
}

// Register binds a method name to a handler. Re-registering a method
// overwrites the previous handler.
func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers.Store(method, h)
}

// Use appends a middleware stage to the pipeline, run in registration
// order on Before and reverse order on After.
func (d *Dispatcher) Use(mw Middleware) {
	d.middleware = append(d.middleware, mw)
}

func (d *Dispatcher) lookup(method string) (Handler, bool) {
	h, ok := d.handlers.Load(method)
	if !ok {
		return nil, false
	}
	return h.(Handler), true
}

// HandleRequest dispatches a JSON-RPC request and always returns a
// *jsonrpc.Message of KindResponse or KindError — never a bare Go error
// — so callers can serialize the result directly.
func (d *Dispatcher) HandleRequest(ctx context.Context, rc *RequestContext, id jsonrpc.ID, session SessionView) *jsonrpc.Message {
	handler, ok := d.lookup(rc.Method)
	if !ok {
		return errorMessage(id, jsonrpc.NewError(jsonrpc.MethodNotFound, fmt.Sprintf("method not found: %s", rc.Method), nil))
	}

	if rpcErr := d.runBefore(ctx, rc, session); rpcErr != nil {
		d.runAfter(ctx, rc, session, rpcErr)
		return errorMessage(id, rpcErr)
	}

	result, err := d.invoke(ctx, handler, &Request{ID: id, Context: rc})
	d.runAfter(ctx, rc, session, err)
	if err != nil {
		return errorMessage(id, ToRPCError(err))
	}

	data, err := jsonrpc.EncodeResult(id, result)
	if err != nil {
		return errorMessage(id, jsonrpc.NewError(jsonrpc.InternalError, "failed to encode result: "+err.Error(), nil))
	}
	return jsonrpc.Decode(data)
}

// HandleNotification dispatches a JSON-RPC notification: errors are
// logged, never surfaced to the caller (spec.md §4.2).
func (d *Dispatcher) HandleNotification(ctx context.Context, rc *RequestContext, session SessionView) {
	handler, ok := d.lookup(rc.Method)
	if !ok {
		d.logger.Warn("no handler registered for notification method", zap.String("method", rc.Method))
		return
	}

	if rpcErr := d.runBefore(ctx, rc, session); rpcErr != nil {
		d.logger.Warn("middleware rejected notification", zap.String("method", rc.Method), zap.Int("code", rpcErr.Code))
		d.runAfter(ctx, rc, session, rpcErr)
		return
	}

	_, err := d.invoke(ctx, handler, &Request{Context: rc})
	d.runAfter(ctx, rc, session, err)
	if err != nil {
		d.logger.Error("error handling notification", zap.String("method", rc.Method), zap.Error(err))
	}
}

func (d *Dispatcher) runBefore(ctx context.Context, rc *RequestContext, session SessionView) *jsonrpc.Error {
	for _, mw := range d.middleware {
		inj, err := mw.Before(ctx, rc, session)
		if err != nil {
			if merr, ok := err.(*MiddlewareError); ok {
				return merr.ToRPCError()
			}
			return jsonrpc.NewError(jsonrpc.InternalError, err.Error(), nil)
		}
		if inj != nil && d.injector != nil {
			if err := d.injector.Apply(ctx, rc.SessionID, inj); err != nil {
				d.logger.Warn("failed to apply session injection", zap.Error(err))
			}
		}
	}
	return nil
}

func (d *Dispatcher) runAfter(ctx context.Context, rc *RequestContext, session SessionView, err error) {
	for i := len(d.middleware) - 1; i >= 0; i-- {
		d.middleware[i].After(ctx, rc, session, err)
	}
}

// invoke calls the handler with panic recovery, mapping a panic to an
// internal error without tearing down the connection (spec.md §4.2),
// grounded on the teacher's recover()-wrapped goroutine in
// shared.Input.Process.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic recovered during handler invocation",
				zap.String("method", req.Context.Method), zap.Any("panic", r))
			err = fmt.Errorf("internal server error during processing: %v", r)
		}
	}()
	return h.Handle(ctx, req)
}

func errorMessage(id jsonrpc.ID, rpcErr *jsonrpc.Error) *jsonrpc.Message {
	data, encErr := jsonrpc.EncodeError(id, rpcErr)
	if encErr != nil {
		// EncodeError only fails on Go-side marshal bugs in rpcErr.Data;
		// degrade to a minimal message rather than losing the response.
		return &jsonrpc.Message{Kind: jsonrpc.KindError, ID: id, RPCErr: rpcErr}
	}
	return jsonrpc.Decode(data)
}
