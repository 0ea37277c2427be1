package transport

import (
	"context"
	"encoding/json"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/session"
)

// managerSessionView adapts session.Manager to dispatch.SessionView for
// one request's sessionID, so the dispatcher never imports the session
// package directly.
type managerSessionView struct {
	mgr       *session.Manager
	sessionID string
}

func newSessionView(mgr *session.Manager, sessionID string) dispatch.SessionView {
	return managerSessionView{mgr: mgr, sessionID: sessionID}
}

func (v managerSessionView) GetState(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return v.mgr.GetState(ctx, v.sessionID, key)
}

func (v managerSessionView) GetMetadata(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return v.mgr.GetMetadata(ctx, v.sessionID, key)
}

// ManagerInjector adapts session.Manager to dispatch.Injector, applying
// a middleware's SessionInjection to the real session store. Exported
// so mcpserver can wire it into dispatch.New without this package
// needing to construct the Dispatcher itself.
type ManagerInjector struct {
	Manager *session.Manager
}

func (i ManagerInjector) Apply(ctx context.Context, sessionID string, inj *dispatch.SessionInjection) error {
	if inj == nil {
		return nil
	}
	return i.Manager.ApplySessionInjection(ctx, sessionID, inj.State, inj.Metadata)
}
