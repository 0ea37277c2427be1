// Package jsonrpc implements the JSON-RPC 2.0 framing used by the MCP
// transport: parsing request/notification frames from raw bytes and
// emitting well-formed response/error frames.
package jsonrpc

import "encoding/json"

// Version is the JSON-RPC protocol version string carried on every frame.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes (spec.md §4.1, §7).
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// MCP-specific server error codes (spec.md §4.2, §7).
const (
	Unauthenticated   = -32001
	Unauthorized      = -32002
	RateLimitExceeded = -32003
)

// ID is a JSON-RPC request identifier: a string, a number, or absent
// (nil, for notifications). It round-trips through JSON without losing
// the caller's original representation.
type ID struct {
	value any // nil, string, or float64
	set   bool
}

// NewStringID builds an ID from a string.
func NewStringID(s string) ID { return ID{value: s, set: true} }

// NewNumberID builds an ID from a number.
func NewNumberID(n float64) ID { return ID{value: n, set: true} }

// IsZero reports whether the ID was never set (i.e. this frame is a
// notification, which carries no id).
func (id ID) IsZero() bool { return !id.set }

// String renders the ID for logging and map keys.
func (id ID) String() string {
	if !id.set {
		return "<none>"
	}
	switch v := id.value.(type) {
	case string:
		return v
	case float64:
		return formatFloat(v)
	default:
		return "<invalid>"
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return itoa(int64(f))
	}
	b, _ := json.Marshal(f)
	return string(b)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// MarshalJSON emits the ID in its original shape, or "null" when unset.
func (id ID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts a JSON string, number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*id = ID{}
		return nil
	}
	*id = ID{value: raw, set: true}
	return nil
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// NewError builds a taxonomy-coded error.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Kind classifies a decoded frame.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
	KindError
)

// Message is a tagged union over the four JSON-RPC frame shapes a server
// or client may send or receive on the wire.
type Message struct {
	Kind    Kind
	ID      ID
	Method  string
	Params  json.RawMessage
	Result  json.RawMessage
	RPCErr  *Error
}

// wireFrame is the on-the-wire shape used for both parsing (loosely, by
// presence of fields) and encoding (strictly, by Kind).
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  *string         `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Decode parses exactly one JSON-RPC frame from data. Parse failures and
// structurally invalid frames are reported as an error-kind Message
// carrying the appropriate taxonomy code, per spec.md §4.1 — Decode
// itself never returns a non-nil error for malformed input; callers
// inspect msg.Kind == KindError.
func Decode(data []byte) *Message {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return &Message{Kind: KindError, RPCErr: NewError(ParseError, "parse error: "+err.Error(), nil)}
	}
	if frame.JSONRPC != Version {
		id := ID{}
		if frame.ID != nil {
			id = *frame.ID
		}
		return &Message{Kind: KindError, ID: id, RPCErr: NewError(InvalidRequest, "invalid request: jsonrpc version must be \"2.0\"", nil)}
	}

	switch {
	case frame.Method != nil && frame.ID != nil:
		return &Message{Kind: KindRequest, ID: *frame.ID, Method: *frame.Method, Params: frame.Params}
	case frame.Method != nil:
		return &Message{Kind: KindNotification, Method: *frame.Method, Params: frame.Params}
	case frame.Error != nil:
		id := ID{}
		if frame.ID != nil {
			id = *frame.ID
		}
		return &Message{Kind: KindError, ID: id, RPCErr: frame.Error}
	case frame.Result != nil:
		id := ID{}
		if frame.ID != nil {
			id = *frame.ID
		}
		return &Message{Kind: KindResponse, ID: id, Result: frame.Result}
	default:
		return &Message{Kind: KindError, RPCErr: NewError(InvalidRequest, "invalid request: missing method/result/error", nil)}
	}
}

// DecodeBatch parses either a single frame or a JSON array of frames,
// mirroring JSON-RPC 2.0 batch support.
func DecodeBatch(data []byte) []*Message {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err == nil {
		msgs := make([]*Message, 0, len(raws))
		for _, raw := range raws {
			msgs = append(msgs, Decode(raw))
		}
		return msgs
	}
	return []*Message{Decode(data)}
}

// EncodeResult emits a successful JSON-RPC response frame.
func EncodeResult(id ID, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	frame := wireFrame{JSONRPC: Version, ID: &id, Result: raw}
	return json.Marshal(frame)
}

// EncodeError emits a JSON-RPC error response frame. id may be the zero
// ID (rendered as null) when the original id could not be recovered.
func EncodeError(id ID, rpcErr *Error) ([]byte, error) {
	frame := wireFrame{JSONRPC: Version, ID: &id, Error: rpcErr}
	return json.Marshal(frame)
}

// EncodeNotification emits a notification frame (no id).
func EncodeNotification(method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}
	frame := wireFrame{JSONRPC: Version, Method: &method, Params: raw}
	return json.Marshal(frame)
}

// EncodeRequest emits a request frame (with id).
func EncodeRequest(id ID, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}
	frame := wireFrame{JSONRPC: Version, ID: &id, Method: &method, Params: raw}
	return json.Marshal(frame)
}
