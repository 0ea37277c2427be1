package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager is the SSE connection registry keyed by (session_id,
// connection_id), protected by a single coarse lock (spec.md §5
// "Stream registry: protected by a single coarse lock"). Grounded on the
// teacher's handle-mcp2025-POST.go responseToStream (SSE header setup,
// keepalive ticker, flusher usage, context-cancellation-driven close),
// generalized from a single inline handler into a reusable registry the
// HTTP transport and the POST-SSE helper both call into.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // session_id -> connection_id -> *Connection
	rings       map[string]*ring                  // session_id -> replay buffer

	ringCapacity int
	queueSize    int
	heartbeat    time.Duration
	logger       *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRingCapacity sets the per-session replay buffer size (default 256).
func WithRingCapacity(n int) Option {
	return func(m *Manager) { m.ringCapacity = n }
}

// WithQueueSize sets each connection's bounded outbound mailbox size
// (default 16).
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queueSize = n }
}

// WithHeartbeat sets the interval between SSE heartbeat comments
// (default 15s, matching the teacher's ticker).
func WithHeartbeat(d time.Duration) Option {
	return func(m *Manager) { m.heartbeat = d }
}

// NewManager constructs an empty stream registry.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		connections:  make(map[string]map[string]*Connection),
		rings:        make(map[string]*ring),
		ringCapacity: 256,
		queueSize:    16,
		heartbeat:    15 * time.Second,
		logger:       logger.Named("stream"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) ringFor(sessionID string) *ring {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rings[sessionID]
	if !ok {
		r = newRing(m.ringCapacity)
		m.rings[sessionID] = r
	}
	return r
}

// Register allocates a connection id and adds it to the registry,
// returning the connection the caller should drain.
func (m *Manager) Register(sessionID string) *Connection {
	id := uuid.NewString()
	conn := newConnection(sessionID, id, m.queueSize)

	m.mu.Lock()
	if m.connections[sessionID] == nil {
		m.connections[sessionID] = make(map[string]*Connection)
	}
	m.connections[sessionID][id] = conn
	m.mu.Unlock()

	m.logger.Debug("registered stream connection", zap.String("session_id", sessionID), zap.String("connection_id", id))
	return conn
}

// Unregister removes a connection from the registry, closing its queue.
func (m *Manager) Unregister(sessionID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.connections[sessionID]
	if !ok {
		return
	}
	if conn, ok := conns[connID]; ok {
		delete(conns, connID)
		conn.close()
	}
	if len(conns) == 0 {
		delete(m.connections, sessionID)
	}
}

// CloseSession removes and closes every connection for a session,
// sending a final connection_lost event first (spec.md §4.5
// "server-side shutdown sends a final event-type=connection_lost").
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	conns := m.connections[sessionID]
	delete(m.connections, sessionID)
	delete(m.rings, sessionID)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.enqueue(Event{Type: connectionLostEventType, Payload: []byte(`{}`)})
		conn.close()
	}
}

// Replay returns buffered events for a session with ID greater than
// lastEventID, for a reconnecting client's Last-Event-ID header.
func (m *Manager) Replay(sessionID string, lastEventID uint64) []Event {
	m.mu.RLock()
	r, ok := m.rings[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.since(lastEventID)
}

// Broadcast implements broadcast_to_session: assigns the next event id,
// appends to the replay buffer, and pushes to every connection of that
// session. Delivery is best-effort (spec.md §4.5) — a connection whose
// queue is full is not blocked on; it is dropped (unregistered, its
// queue closed), and the client can reconnect with Last-Event-ID.
func (m *Manager) Broadcast(sessionID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	ev := m.ringFor(sessionID).append(eventType, data)

	m.mu.RLock()
	var full []*Connection
	for _, conn := range m.connections[sessionID] {
		if !conn.enqueue(ev) {
			full = append(full, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range full {
		m.logger.Warn("dropping SSE connection: queue full",
			zap.String("session_id", sessionID), zap.String("connection_id", conn.ID))
		m.Unregister(sessionID, conn.ID)
	}
	return ev, nil
}

// ConnectionCount reports the number of active connections for a
// session, mainly for tests and diagnostics.
func (m *Manager) ConnectionCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections[sessionID])
}

// RunHeartbeat sends a bare SSE comment on w every Manager.heartbeat
// interval until ctx is cancelled, grounded on the teacher's 15-second
// keepalive ticker.
func (m *Manager) RunHeartbeat(ctx context.Context, w *Writer) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteComment("keepalive"); err != nil {
				return
			}
		}
	}
}
