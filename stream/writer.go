package stream

import (
	"fmt"
	"net/http"
)

// Writer frames SSE events onto an http.ResponseWriter, generalizing the
// teacher's inline fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ...) pattern in
// handle-mcp2025-POST.go into a reusable type.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w for SSE framing. It returns an error if w does not
// support flushing, mirroring the teacher's explicit http.Flusher check.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("stream: response writer does not support flushing")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent writes one SSE event frame (id/event/data lines plus the
// blank-line terminator) and flushes it immediately.
func (sw *Writer) WriteEvent(ev Event) error {
	if ev.Type != "" {
		if _, err := fmt.Fprintf(sw.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Payload); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(sw.w, "id: %d\ndata: %s\n\n", ev.ID, ev.Payload); err != nil {
			return err
		}
	}
	sw.flusher.Flush()
	return nil
}

// WriteComment writes a bare SSE comment line, used for heartbeats that
// should not be visible as a dispatched event to the client's
// EventSource listener.
func (sw *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
