// Package session implements the MCP session data model, its pluggable
// storage backends, and the lifecycle manager that drives the
// initialize/initialized handshake and per-session event fan-out.
package session

import (
	"encoding/json"
	"sync"
	"time"
)

// ClientInfo mirrors the protocol's clientInfo/serverInfo shape: a name
// and version pair.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info is the full session record (spec.md §3). CreatedAt/LastActiveAt
// are always UTC. State and Metadata are user- and middleware-addressable
// JSON maps respectively, guarded by their own mutex since readers and
// writers can race independently of the rest of the record.
type Info struct {
	ID                 string
	ClientInfo         ClientInfo
	ClientCapabilities json.RawMessage
	ServerCapabilities json.RawMessage
	NegotiatedVersion  string
	Initialized        bool
	CreatedAt          time.Time
	LastActiveAt       time.Time
	Terminated         bool

	mu       sync.RWMutex
	state    map[string]json.RawMessage
	metadata map[string]json.RawMessage
}

// NewInfo builds a fresh record with initialized empty maps.
func NewInfo(id string) *Info {
	now := time.Now().UTC()
	return &Info{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		state:        make(map[string]json.RawMessage),
		metadata:     make(map[string]json.RawMessage),
	}
}

// Clone returns a deep-enough copy safe for a caller to read without
// holding the record's lock afterward (store.Get returns a snapshot, per
// spec.md §5 "readers obtain a snapshot").
func (i *Info) Clone() *Info {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c := &Info{
		ID:                 i.ID,
		ClientInfo:         i.ClientInfo,
		ClientCapabilities: i.ClientCapabilities,
		ServerCapabilities: i.ServerCapabilities,
		NegotiatedVersion:  i.NegotiatedVersion,
		Initialized:        i.Initialized,
		CreatedAt:          i.CreatedAt,
		LastActiveAt:       i.LastActiveAt,
		Terminated:         i.Terminated,
		state:              make(map[string]json.RawMessage, len(i.state)),
		metadata:           make(map[string]json.RawMessage, len(i.metadata)),
	}
	for k, v := range i.state {
		c.state[k] = v
	}
	for k, v := range i.metadata {
		c.metadata[k] = v
	}
	return c
}

// SetState writes a single state key (last-writer-wins at key
// granularity, spec.md §5).
func (i *Info) SetState(key string, value json.RawMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state[key] = value
}

// GetState reads a single state key.
func (i *Info) GetState(key string) (json.RawMessage, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.state[key]
	return v, ok
}

// SetMetadata writes a single metadata key.
func (i *Info) SetMetadata(key string, value json.RawMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.metadata[key] = value
}

// GetMetadata reads a single metadata key.
func (i *Info) GetMetadata(key string) (json.RawMessage, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.metadata[key]
	return v, ok
}

// StateSnapshot returns a copy of the full state map.
func (i *Info) StateSnapshot() map[string]json.RawMessage {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(i.state))
	for k, v := range i.state {
		out[k] = v
	}
	return out
}

// MetadataSnapshot returns a copy of the full metadata map.
func (i *Info) MetadataSnapshot() map[string]json.RawMessage {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(i.metadata))
	for k, v := range i.metadata {
		out[k] = v
	}
	return out
}
