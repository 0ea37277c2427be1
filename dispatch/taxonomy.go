// Package dispatch implements the method registry and middleware
// pipeline that routes JSON-RPC requests/notifications to handlers,
// translating domain and middleware failures into JSON-RPC error
// responses.
package dispatch

import "github.com/arcrun/mcprt/jsonrpc"

// MiddlewareErrorKind discriminates the middleware error taxonomy
// (spec.md §4.2) so it maps deterministically onto a JSON-RPC code.
type MiddlewareErrorKind int

const (
	MiddlewareUnauthenticated MiddlewareErrorKind = iota
	MiddlewareUnauthorized
	MiddlewareRateLimitExceeded
	MiddlewareInvalidRequest
	MiddlewareInternal
)

// MiddlewareError is the structured error a Middleware's Before stage
// returns to short-circuit dispatch.
type MiddlewareError struct {
	Kind       MiddlewareErrorKind
	Message    string
	RetryAfter float64 // seconds; populated for MiddlewareRateLimitExceeded
}

func (e *MiddlewareError) Error() string { return e.Message }

// ToRPCError maps a MiddlewareError onto its JSON-RPC code per spec.md
// §4.2's table.
func (e *MiddlewareError) ToRPCError() *jsonrpc.Error {
	var data any
	if e.Kind == MiddlewareRateLimitExceeded && e.RetryAfter > 0 {
		data = map[string]float64{"retryAfter": e.RetryAfter}
	}
	switch e.Kind {
	case MiddlewareUnauthenticated:
		return jsonrpc.NewError(jsonrpc.Unauthenticated, e.Message, data)
	case MiddlewareUnauthorized:
		return jsonrpc.NewError(jsonrpc.Unauthorized, e.Message, data)
	case MiddlewareRateLimitExceeded:
		return jsonrpc.NewError(jsonrpc.RateLimitExceeded, e.Message, data)
	case MiddlewareInvalidRequest:
		return jsonrpc.NewError(jsonrpc.InvalidRequest, e.Message, data)
	default:
		return jsonrpc.NewError(jsonrpc.InternalError, e.Message, data)
	}
}

// DomainError is what a Handler returns when it wants a specific
// JSON-RPC error code rather than the generic InternalError fallback.
type DomainError struct {
	Code    int
	Message string
	Data    any
}

func (e *DomainError) Error() string { return e.Message }

// ToRPCError translates any handler-returned error into a JSON-RPC
// error: DomainError and MiddlewareError carry their own code, anything
// else becomes InternalError.
func ToRPCError(err error) *jsonrpc.Error {
	switch e := err.(type) {
	case *DomainError:
		return jsonrpc.NewError(e.Code, e.Message, e.Data)
	case *MiddlewareError:
		return e.ToRPCError()
	default:
		return jsonrpc.NewError(jsonrpc.InternalError, err.Error(), nil)
	}
}
