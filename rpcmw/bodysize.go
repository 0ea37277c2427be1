package rpcmw

import (
	"context"
	"fmt"

	"github.com/arcrun/mcprt/dispatch"
)

// ParamsSizeLimit rejects requests whose decoded params exceed a byte
// ceiling as InvalidRequest. This complements transport's whole-body
// limit (spec.md §4.6.1, enforced at the HTTP layer before JSON-RPC
// parsing even begins): a single batched POST can stay under the body
// cap while still carrying one oversized params payload a handler
// shouldn't have to defend against itself.
type ParamsSizeLimit struct {
	maxBytes int
}

// NewParamsSizeLimit builds a ParamsSizeLimit middleware capping params
// at maxBytes.
func NewParamsSizeLimit(maxBytes int) *ParamsSizeLimit {
	return &ParamsSizeLimit{maxBytes: maxBytes}
}

var _ dispatch.Middleware = (*ParamsSizeLimit)(nil)

func (p *ParamsSizeLimit) Before(ctx context.Context, rc *dispatch.RequestContext, session dispatch.SessionView) (*dispatch.SessionInjection, error) {
	if p.maxBytes > 0 && len(rc.Params) > p.maxBytes {
		return nil, &dispatch.MiddlewareError{
			Kind:    dispatch.MiddlewareInvalidRequest,
			Message: fmt.Sprintf("params exceed maximum size of %d bytes", p.maxBytes),
		}
	}
	return nil, nil
}

func (p *ParamsSizeLimit) After(ctx context.Context, rc *dispatch.RequestContext, session dispatch.SessionView, handlerErr error) {
}
