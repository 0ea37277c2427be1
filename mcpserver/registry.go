package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/arcrun/mcprt/dispatch"
)

// ToolsProvider, ResourcesProvider, PromptsProvider, and LogLevelSetter
// are the delegated collaborators spec.md §1/§6.3 describes as
// "explicitly out of scope ... only their interfaces are specified":
// concrete tools/resources/prompts implementations are a deployment's
// own concern; this package only wires their method names onto these
// narrow interfaces and maps results/errors onto the wire format.

// ToolsProvider answers tools/list and tools/call.
type ToolsProvider interface {
	ListTools(ctx context.Context, cursor string) (result any, err error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (result any, err error)
}

// ResourcesProvider answers resources/list and resources/read.
type ResourcesProvider interface {
	ListResources(ctx context.Context, cursor string) (result any, err error)
	ReadResource(ctx context.Context, uri string) (result any, err error)
}

// PromptsProvider answers prompts/list and prompts/render.
type PromptsProvider interface {
	ListPrompts(ctx context.Context, cursor string) (result any, err error)
	RenderPrompt(ctx context.Context, name string, arguments json.RawMessage) (result any, err error)
}

// LogLevelSetter answers logging/setLevel.
type LogLevelSetter interface {
	SetLogLevel(ctx context.Context, level string) error
}

// RegisterTools binds tools/list and tools/call to p on d.
func RegisterTools(d *dispatch.Dispatcher, p ToolsProvider) {
	d.Register("tools/list", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Context.Params, &params)
		return p.ListTools(ctx, params.Cursor)
	}))

	d.Register("tools/call", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Context.Params, &params); err != nil {
			return nil, &dispatch.DomainError{Code: -32602, Message: "invalid tools/call params: " + err.Error()}
		}
		return p.CallTool(ctx, params.Name, params.Arguments)
	}))
}

// RegisterResources binds resources/list and resources/read to p on d.
func RegisterResources(d *dispatch.Dispatcher, p ResourcesProvider) {
	d.Register("resources/list", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Context.Params, &params)
		return p.ListResources(ctx, params.Cursor)
	}))

	d.Register("resources/read", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Context.Params, &params); err != nil {
			return nil, &dispatch.DomainError{Code: -32602, Message: "invalid resources/read params: " + err.Error()}
		}
		return p.ReadResource(ctx, params.URI)
	}))
}

// RegisterPrompts binds prompts/list and prompts/render to p on d.
func RegisterPrompts(d *dispatch.Dispatcher, p PromptsProvider) {
	d.Register("prompts/list", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Context.Params, &params)
		return p.ListPrompts(ctx, params.Cursor)
	}))

	d.Register("prompts/render", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Context.Params, &params); err != nil {
			return nil, &dispatch.DomainError{Code: -32602, Message: "invalid prompts/render params: " + err.Error()}
		}
		return p.RenderPrompt(ctx, params.Name, params.Arguments)
	}))
}

// RegisterLogging binds logging/setLevel to s on d.
func RegisterLogging(d *dispatch.Dispatcher, s LogLevelSetter) {
	d.Register("logging/setLevel", dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (any, error) {
		var params struct {
			Level string `json:"level"`
		}
		if err := json.Unmarshal(req.Context.Params, &params); err != nil {
			return nil, &dispatch.DomainError{Code: -32602, Message: "invalid logging/setLevel params: " + err.Error()}
		}
		if err := s.SetLogLevel(ctx, params.Level); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}))
}
