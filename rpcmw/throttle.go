// Package rpcmw provides ambient dispatch.Middleware implementations
// shared across deployments: per-session rate limiting, a params-size
// guard, and an unimplemented authentication hook (spec.md's Non-goal
// "no built-in authentication" — only the interface is specified).
package rpcmw

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/arcrun/mcprt/dispatch"
)

// limiterPair holds both the per-second and per-minute limiters for one
// session, grounded on the teacher's validators.limiterPair.
type limiterPair struct {
	rps *rate.Limiter
	rpm *rate.Limiter
}

// Throttle is a dispatch.Middleware enforcing per-session requests-per-
// second and requests-per-minute ceilings. Grounded on
// gate4ai-gate4ai/server/mcp/validators/throttling.go's Throttling type,
// generalized from session-parameter-sourced limits to constructor-
// supplied defaults (this module has no config-file/session-parameter
// concept of its own).
type Throttle struct {
	defaultRPS int
	defaultRPM int

	mu       sync.Mutex
	limiters map[string]*limiterPair
}

// NewThrottle builds a Throttle middleware with the given default
// per-session RPS/RPM ceilings. A zero value disables that dimension.
func NewThrottle(defaultRPS, defaultRPM int) *Throttle {
	return &Throttle{
		defaultRPS: defaultRPS,
		defaultRPM: defaultRPM,
		limiters:   make(map[string]*limiterPair),
	}
}

func (t *Throttle) limitersFor(sessionID string) *limiterPair {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pair, ok := t.limiters[sessionID]; ok {
		return pair
	}

	pair := &limiterPair{}
	if t.defaultRPS > 0 {
		pair.rps = rate.NewLimiter(rate.Limit(t.defaultRPS), t.defaultRPS)
	}
	if t.defaultRPM > 0 {
		pair.rpm = rate.NewLimiter(rate.Limit(t.defaultRPM)/60.0, t.defaultRPM)
	}
	t.limiters[sessionID] = pair
	return pair
}

// Forget drops a session's limiters, e.g. once its session is
// terminated, so they don't leak for the process lifetime.
func (t *Throttle) Forget(sessionID string) {
	t.mu.Lock()
	delete(t.limiters, sessionID)
	t.mu.Unlock()
}

var _ dispatch.Middleware = (*Throttle)(nil)

// Before rejects the request with RateLimitExceeded once either ceiling
// is exhausted for the session.
func (t *Throttle) Before(ctx context.Context, rc *dispatch.RequestContext, session dispatch.SessionView) (*dispatch.SessionInjection, error) {
	pair := t.limitersFor(rc.SessionID)

	if pair.rps != nil && !pair.rps.Allow() {
		return nil, &dispatch.MiddlewareError{
			Kind:       dispatch.MiddlewareRateLimitExceeded,
			Message:    "rate limit exceeded: too many requests per second",
			RetryAfter: 1,
		}
	}
	if pair.rpm != nil && !pair.rpm.Allow() {
		return nil, &dispatch.MiddlewareError{
			Kind:       dispatch.MiddlewareRateLimitExceeded,
			Message:    "rate limit exceeded: too many requests per minute",
			RetryAfter: 60,
		}
	}
	return nil, nil
}

// After is a no-op; throttling only gates entry.
func (t *Throttle) After(ctx context.Context, rc *dispatch.RequestContext, session dispatch.SessionView, handlerErr error) {
}
