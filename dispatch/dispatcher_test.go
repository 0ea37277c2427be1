package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSession struct{}

func (noopSession) GetState(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return nil, false, nil
}
func (noopSession) GetMetadata(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return nil, false, nil
}

type recordingInjector struct{ applied []*dispatch.SessionInjection }

func (r *recordingInjector) Apply(ctx context.Context, sessionID string, inj *dispatch.SessionInjection) error {
	r.applied = append(r.applied, inj)
	return nil
}

func TestHandleRequestSuccess(t *testing.T) {
	d := dispatch.New(nil, nil)
	d.Register("ping", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	}))

	msg := d.HandleRequest(context.Background(), &dispatch.RequestContext{Method: "ping"}, jsonrpc.NewNumberID(1), noopSession{})
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)
	var result map[string]string
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.Equal(t, "ok", result["pong"])
}

func TestHandleRequestMethodNotFound(t *testing.T) {
	d := dispatch.New(nil, nil)
	msg := d.HandleRequest(context.Background(), &dispatch.RequestContext{Method: "nope"}, jsonrpc.NewNumberID(1), noopSession{})
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	assert.Equal(t, jsonrpc.MethodNotFound, msg.RPCErr.Code)
}

func TestHandleRequestPanicRecovered(t *testing.T) {
	d := dispatch.New(nil, nil)
	d.Register("boom", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		panic("kaboom")
	}))

	msg := d.HandleRequest(context.Background(), &dispatch.RequestContext{Method: "boom"}, jsonrpc.NewNumberID(1), noopSession{})
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	assert.Equal(t, jsonrpc.InternalError, msg.RPCErr.Code)
}

func TestHandleRequestDomainErrorMapsCode(t *testing.T) {
	d := dispatch.New(nil, nil)
	d.Register("bad-params", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		return nil, &dispatch.DomainError{Code: jsonrpc.InvalidParams, Message: "missing field"}
	}))

	msg := d.HandleRequest(context.Background(), &dispatch.RequestContext{Method: "bad-params"}, jsonrpc.NewNumberID(1), noopSession{})
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	assert.Equal(t, jsonrpc.InvalidParams, msg.RPCErr.Code)
}

type rejectingMiddleware struct{ kind dispatch.MiddlewareErrorKind }

func (m rejectingMiddleware) Before(ctx context.Context, rc *dispatch.RequestContext, s dispatch.SessionView) (*dispatch.SessionInjection, error) {
	return nil, &dispatch.MiddlewareError{Kind: m.kind, Message: "rejected"}
}
func (m rejectingMiddleware) After(ctx context.Context, rc *dispatch.RequestContext, s dispatch.SessionView, err error) {
}

func TestMiddlewareShortCircuitsWithMappedCode(t *testing.T) {
	d := dispatch.New(nil, nil)
	d.Use(rejectingMiddleware{kind: dispatch.MiddlewareRateLimitExceeded})
	d.Register("anything", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		t.Fatal("handler should not run when middleware rejects")
		return nil, nil
	}))

	msg := d.HandleRequest(context.Background(), &dispatch.RequestContext{Method: "anything"}, jsonrpc.NewNumberID(1), noopSession{})
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	assert.Equal(t, jsonrpc.RateLimitExceeded, msg.RPCErr.Code)
}

type injectingMiddleware struct{}

func (injectingMiddleware) Before(ctx context.Context, rc *dispatch.RequestContext, s dispatch.SessionView) (*dispatch.SessionInjection, error) {
	return &dispatch.SessionInjection{State: map[string]json.RawMessage{"k": json.RawMessage(`"v"`)}}, nil
}
func (injectingMiddleware) After(ctx context.Context, rc *dispatch.RequestContext, s dispatch.SessionView, err error) {
}

func TestMiddlewareInjectionAppliedBeforeHandler(t *testing.T) {
	injector := &recordingInjector{}
	d := dispatch.New(injector, nil)
	d.Use(injectingMiddleware{})
	d.Register("m", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		return nil, nil
	}))

	d.HandleRequest(context.Background(), &dispatch.RequestContext{Method: "m"}, jsonrpc.NewNumberID(1), noopSession{})
	require.Len(t, injector.applied, 1)
}

func TestHandleNotificationErrorsAreNotSurfaced(t *testing.T) {
	d := dispatch.New(nil, nil)
	d.Register("notifications/x", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		return nil, assertError{}
	}))
	// Must not panic and has no return value to assert on; success is
	// simply that this call returns.
	d.HandleNotification(context.Background(), &dispatch.RequestContext{Method: "notifications/x"}, noopSession{})
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
