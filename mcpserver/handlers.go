package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/session"
)

// registerCoreHandlers binds the three lifecycle methods spec.md §6.3
// names as the minimum every server implements: initialize,
// notifications/initialized, and ping.
func registerCoreHandlers(d *dispatch.Dispatcher, sessions *session.Manager) {
	d.Register("initialize", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params session.InitializeParams
		if err := json.Unmarshal(req.Context.Params, &params); err != nil {
			return nil, &dispatch.DomainError{Code: -32602, Message: "invalid initialize params: " + err.Error()}
		}

		result, err := sessions.HandleInitialize(ctx, req.Context.SessionID, params)
		if err != nil {
			return nil, &dispatch.DomainError{Code: -32602, Message: err.Error()}
		}
		return result, nil
	}))

	d.Register("notifications/initialized", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		if err := sessions.HandleInitialized(ctx, req.Context.SessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}))

	d.Register("ping", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		return struct{}{}, nil
	}))
}
