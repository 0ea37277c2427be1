package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory Store backend: a map guarded by a single
// RWMutex, grounded on the teacher's server/transport.Manager.sessions
// field (map[string]*Session + sync.RWMutex).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Info
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Info)}
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source is broken; fall back to
		// a random v4 rather than panicking a live server.
		return uuid.NewString()
	}
	return id.String()
}

func (m *MemoryStore) Create(ctx context.Context) (*Info, error) {
	return m.CreateWithID(ctx, newSessionID())
}

func (m *MemoryStore) CreateWithID(ctx context.Context, id string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, ErrConflict
	}
	info := NewInfo(id)
	m.sessions[id] = info
	return info.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return info.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, update *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[update.ID]
	if !ok {
		return ErrNotFound
	}
	existing.mu.Lock()
	existing.ClientInfo = update.ClientInfo
	existing.ClientCapabilities = update.ClientCapabilities
	existing.ServerCapabilities = update.ServerCapabilities
	existing.NegotiatedVersion = update.NegotiatedVersion
	existing.Initialized = update.Initialized
	existing.Terminated = update.Terminated
	existing.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) SetState(ctx context.Context, id, key string, value Capabilities) error {
	m.mu.RLock()
	info, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	info.SetState(key, value)
	return nil
}

func (m *MemoryStore) GetState(ctx context.Context, id, key string) (Capabilities, bool, error) {
	m.mu.RLock()
	info, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}
	v, ok := info.GetState(key)
	return v, ok, nil
}

func (m *MemoryStore) SetMetadata(ctx context.Context, id, key string, value Capabilities) error {
	m.mu.RLock()
	info, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	info.SetMetadata(key, value)
	return nil
}

func (m *MemoryStore) GetMetadata(ctx context.Context, id, key string) (Capabilities, bool, error) {
	m.mu.RLock()
	info, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}
	v, ok := info.GetMetadata(key)
	return v, ok, nil
}

func (m *MemoryStore) Touch(ctx context.Context, id string) error {
	m.mu.RLock()
	info, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	info.mu.Lock()
	info.LastActiveAt = time.Now().UTC()
	info.mu.Unlock()
	return nil
}

func (m *MemoryStore) ExpireOlderThan(ctx context.Context, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, info := range m.sessions {
		info.mu.RLock()
		last := info.LastActiveAt
		info.mu.RUnlock()
		if last.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	return expired, nil
}

func (m *MemoryStore) Close() error { return nil }
