package mcpserver

import (
	"context"
	"fmt"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/session"
)

// lifecycleExemptMethods never require the session to have completed
// the initialize/initialized handshake.
var lifecycleExemptMethods = map[string]bool{
	"initialize":                true,
	"notifications/initialized": true,
	"ping":                       true,
}

// LifecycleGate is a dispatch.Middleware enforcing spec.md §4.4's
// strict-mode ordering: any method other than the lifecycle trio is
// rejected until the session has completed initialize/initialized.
// Grounded on the teacher's capability.BaseCapability, which the same
// way refuses non-lifecycle calls on a session that hasn't connected.
type LifecycleGate struct {
	sessions *session.Manager
}

// NewLifecycleGate builds a LifecycleGate over the given session
// manager.
func NewLifecycleGate(sessions *session.Manager) *LifecycleGate {
	return &LifecycleGate{sessions: sessions}
}

var _ dispatch.Middleware = (*LifecycleGate)(nil)

func (g *LifecycleGate) Before(ctx context.Context, rc *dispatch.RequestContext, view dispatch.SessionView) (*dispatch.SessionInjection, error) {
	if lifecycleExemptMethods[rc.Method] {
		return nil, nil
	}
	if err := g.sessions.Gate(ctx, rc.SessionID); err != nil {
		return nil, &dispatch.MiddlewareError{
			Kind:    dispatch.MiddlewareInvalidRequest,
			Message: fmt.Sprintf("Session not initialized: %s", err.Error()),
		}
	}
	return nil, nil
}

func (g *LifecycleGate) After(ctx context.Context, rc *dispatch.RequestContext, view dispatch.SessionView, handlerErr error) {
}
