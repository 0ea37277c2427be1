package rpcmw

import (
	"context"

	"github.com/arcrun/mcprt/dispatch"
)

// Authenticator verifies the caller identified by a request's headers,
// returning a non-nil error to reject the request. Left unimplemented
// by default per spec.md's Non-goal "no built-in authentication" — this
// is the seam a deployment wires its own scheme (API key, mTLS, OAuth
// token introspection, ...) into, grounded on the teacher's pluggable
// shared.MessageValidator list (server/mcp/validators.CreateDefaultValidators),
// which composes independent checks the same way Auth composes here.
type Authenticator interface {
	Authenticate(ctx context.Context, headers map[string]string) error
}

// NoopAuthenticator accepts every request; it is the default when no
// Authenticator is configured.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Authenticate(ctx context.Context, headers map[string]string) error {
	return nil
}

// Auth is a dispatch.Middleware delegating to a pluggable Authenticator.
// A nil Authenticator is treated as NoopAuthenticator.
type Auth struct {
	Authenticator Authenticator
}

// NewAuth builds an Auth middleware. Passing nil installs
// NoopAuthenticator.
func NewAuth(authenticator Authenticator) *Auth {
	if authenticator == nil {
		authenticator = NoopAuthenticator{}
	}
	return &Auth{Authenticator: authenticator}
}

var _ dispatch.Middleware = (*Auth)(nil)

func (a *Auth) Before(ctx context.Context, rc *dispatch.RequestContext, session dispatch.SessionView) (*dispatch.SessionInjection, error) {
	if err := a.Authenticator.Authenticate(ctx, rc.Headers); err != nil {
		return nil, &dispatch.MiddlewareError{
			Kind:    dispatch.MiddlewareUnauthenticated,
			Message: err.Error(),
		}
	}
	return nil, nil
}

func (a *Auth) After(ctx context.Context, rc *dispatch.RequestContext, session dispatch.SessionView, handlerErr error) {
}
