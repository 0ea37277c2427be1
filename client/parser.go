package client

import (
	"bytes"
	"encoding/json"
)

// FrameParser consumes a byte stream that may concatenate multiple
// JSON-RPC frames back to back (spec.md §4.8: "incremental byte-stream
// parser that consumes concatenated JSON frames ... computing exact
// bytes consumed per value and draining the buffer accordingly"). Feed
// appends newly-arrived bytes and returns every complete frame found so
// far, retaining any trailing partial frame for the next call.
type FrameParser struct {
	buf []byte
}

// NewFrameParser returns an empty parser.
func NewFrameParser() *FrameParser { return &FrameParser{} }

// Feed appends chunk to the internal buffer and extracts every frame
// that is now complete. Each returned slice is the exact bytes of one
// JSON value — whitespace between frames is skipped, not included.
func (p *FrameParser) Feed(chunk []byte) []json.RawMessage {
	p.buf = append(p.buf, chunk...)
	var frames []json.RawMessage

	for {
		trimmed := bytes.TrimLeft(p.buf, " \t\r\n")
		consumed := len(p.buf) - len(trimmed)
		if len(trimmed) == 0 {
			p.buf = trimmed
			break
		}

		dec := json.NewDecoder(bytes.NewReader(trimmed))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// Incomplete frame: wait for more bytes, keeping what we have
			// (minus the whitespace we already trimmed).
			p.buf = trimmed
			_ = consumed
			break
		}
		n := int(dec.InputOffset())
		frame := make(json.RawMessage, n)
		copy(frame, trimmed[:n])
		frames = append(frames, frame)
		p.buf = trimmed[n:]
	}

	return frames
}

// Pending reports how many unconsumed bytes remain buffered (a partial
// frame still being accumulated).
func (p *FrameParser) Pending() int { return len(p.buf) }
