// Package taskstore implements the persistent asynchronous task record
// engine: a finite-state lifecycle, optimistic concurrency by version,
// TTL expiry, cursor-stable pagination, and crash recovery, behind one
// Store interface with two interchangeable SQL backends.
package taskstore

import (
	"encoding/json"
	"time"
)

// Status is the task lifecycle state (spec.md §4.7 state machine).
type Status string

const (
	Working       Status = "working"
	InputRequired Status = "input_required"
	Completed     Status = "completed"
	Failed        Status = "failed"
	Cancelled     Status = "cancelled"
)

// Terminal reports whether status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

func (s Status) valid() bool {
	switch s {
	case Working, InputRequired, Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// Outcome is the tagged union a task's result slot holds (spec.md §6.4):
// exactly one of Success or Error is populated, mirrored by IsError.
type Outcome struct {
	Success      json.RawMessage `json:"Success,omitempty"`
	ErrorCode    int             `json:"-"`
	ErrorMessage string          `json:"-"`
	ErrorData    json.RawMessage `json:"-"`
	IsError      bool            `json:"-"`
}

// SuccessOutcome builds a Success-tagged Outcome.
func SuccessOutcome(payload json.RawMessage) Outcome {
	return Outcome{Success: payload}
}

// ErrorOutcome builds an Error-tagged Outcome.
func ErrorOutcome(code int, message string, data json.RawMessage) Outcome {
	return Outcome{IsError: true, ErrorCode: code, ErrorMessage: message, ErrorData: data}
}

// MarshalJSON renders the outcome per spec.md §6.4's wire shape:
// {"Success": <json>} or {"Error": {"code","message","data"?}}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.IsError {
		errBody := struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data,omitempty"`
		}{Code: o.ErrorCode, Message: o.ErrorMessage, Data: o.ErrorData}
		return json.Marshal(struct {
			Error any `json:"Error"`
		}{Error: errBody})
	}
	return json.Marshal(struct {
		Success json.RawMessage `json:"Success"`
	}{Success: o.Success})
}

// UnmarshalJSON parses either wire shape back into an Outcome.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var shape struct {
		Success json.RawMessage `json:"Success"`
		Error   *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data,omitempty"`
		} `json:"Error"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	if shape.Error != nil {
		o.IsError = true
		o.ErrorCode = shape.Error.Code
		o.ErrorMessage = shape.Error.Message
		o.ErrorData = shape.Error.Data
		return nil
	}
	o.IsError = false
	o.Success = shape.Success
	return nil
}

// Record is the full task entity (spec.md §3 "Task record").
type Record struct {
	ID             string
	SessionID      string // optional; empty means global/unscoped
	Status         Status
	StatusMessage  string
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
	TTLMillis      *int64
	PollIntervalMs *int64
	OriginalMethod string
	OriginalParams json.RawMessage
	Result         *Outcome
	Meta           map[string]json.RawMessage
	Version        int64
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the backend's internal state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.TTLMillis != nil {
		v := *r.TTLMillis
		c.TTLMillis = &v
	}
	if r.PollIntervalMs != nil {
		v := *r.PollIntervalMs
		c.PollIntervalMs = &v
	}
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	if r.Meta != nil {
		c.Meta = make(map[string]json.RawMessage, len(r.Meta))
		for k, v := range r.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}
