package stream

import "strings"

// Mode classifies a POST request's Accept header per spec.md §4.5's
// decision table.
type Mode int

const (
	// ModeInvalid: neither application/json nor text/event-stream was
	// offered. Falls back to a plain JSON response.
	ModeInvalid Mode = iota
	// ModeJSONOnly: application/json only — forced JSON, for
	// non-compliant clients.
	ModeJSONOnly
	// ModeSSEOnly: text/event-stream only — POST-SSE is mandatory.
	ModeSSEOnly
	// ModeCompliant: both offered — server's choice, SSE only for
	// tools/call.
	ModeCompliant
)

// PostSSEEligible reports whether Mode permits POST-SSE delivery.
func (m Mode) PostSSEEligible() bool {
	return m == ModeSSEOnly || m == ModeCompliant
}

// ClassifyAccept implements the Accept-header decision table as a pure
// function for unit testability (spec.md §9 calls for pulling parsing
// logic like this out of the handler), generalizing the teacher's
// inline strings.Contains(strings.ToLower(r.Header.Get("Accept")),
// "text/event-stream") check in handle-mcp2025-POST.go into the full
// four-way table spec.md requires.
func ClassifyAccept(header string) Mode {
	h := strings.ToLower(header)
	acceptsJSON := strings.Contains(h, "application/json") || strings.Contains(h, "*/*")
	acceptsSSE := strings.Contains(h, "text/event-stream")

	switch {
	case acceptsJSON && acceptsSSE:
		return ModeCompliant
	case acceptsJSON && !acceptsSSE:
		return ModeJSONOnly
	case !acceptsJSON && acceptsSSE:
		return ModeSSEOnly
	default:
		return ModeInvalid
	}
}
