package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arcrun/mcprt/jsonrpc"
	"go.uber.org/zap"
)

// LifecycleMode selects how strictly the manager enforces the
// initialize -> initialized ordering before a session is allowed to
// carry any other method (spec.md §4.4).
type LifecycleMode int

const (
	// ModeStrict rejects any non-lifecycle method sent before the
	// initialized notification has been received.
	ModeStrict LifecycleMode = iota
	// ModeLenient allows other methods through once initialize has
	// completed, even if initialized hasn't arrived yet.
	ModeLenient
)

// ErrNotInitialized is returned by Gate when a session attempts a
// non-lifecycle method before completing the handshake under ModeStrict.
var ErrNotInitialized = errors.New("session: not initialized")

// InitializeParams is the subset of the initialize request's params this
// package cares about.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
}

// InitializeResult is the shape of the initialize response.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      ClientInfo      `json:"serverInfo"`
}

// ServerInfoProvider supplies the server's own name/version and declared
// capabilities for the initialize response; implemented by whatever
// registers method handlers (spec.md's dispatcher, out of this package).
type ServerInfoProvider interface {
	ServerInfo() ClientInfo
	ServerCapabilities() json.RawMessage
}

// Manager drives the session lifecycle: creation, the initialize /
// initialized handshake, version negotiation, idle sweep, and broadcast
// fan-out to every connected session. Grounded on the teacher's
// server/transport.Manager (session map + RWMutex + NotifyEligibleSessions)
// and server/mcp/capability.BaseCapability (handleInitialize /
// handleNotificationInitialized state machine).
type Manager struct {
	store  Store
	logger *zap.Logger
	info   ServerInfoProvider
	mode   LifecycleMode

	broadcastMu sync.RWMutex
	broadcast   map[string]chan jsonrpc.Message // per-session outbound notification channel
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifecycleMode overrides the default ModeStrict handshake enforcement.
func WithLifecycleMode(mode LifecycleMode) Option {
	return func(m *Manager) { m.mode = mode }
}

// NewManager constructs a lifecycle manager over the given store.
func NewManager(store Store, info ServerInfoProvider, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:     store,
		logger:    logger.Named("session.manager"),
		info:      info,
		mode:      ModeStrict,
		broadcast: make(map[string]chan jsonrpc.Message),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession mints a new session and opens its broadcast channel.
func (m *Manager) CreateSession(ctx context.Context) (*Info, error) {
	info, err := m.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	m.broadcastMu.Lock()
	m.broadcast[info.ID] = make(chan jsonrpc.Message, 32)
	m.broadcastMu.Unlock()
	m.logger.Debug("created session", zap.String("session_id", info.ID))
	return info, nil
}

// CloseSession terminates a session and releases its broadcast channel.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.broadcastMu.Lock()
	if ch, ok := m.broadcast[id]; ok {
		close(ch)
		delete(m.broadcast, id)
	}
	m.broadcastMu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("error deleting session on close", zap.String("session_id", id), zap.Error(err))
		return err
	}
	m.logger.Info("closed session", zap.String("session_id", id))
	return nil
}

// HandleInitialize implements the initialize method: negotiates a
// protocol version, records client info/capabilities, and returns the
// response the dispatcher should send back. In ModeLenient it also marks
// the session Initialized; in ModeStrict that happens on the initialized
// notification.
func (m *Manager) HandleInitialize(ctx context.Context, sessionID string, params InitializeParams) (*InitializeResult, error) {
	logger := m.logger.With(zap.String("session_id", sessionID), zap.String("method", "initialize"))

	negotiated, err := NegotiateVersion(params.ProtocolVersion)
	if err != nil {
		logger.Warn("no protocol version compatible with client request", zap.String("requested", params.ProtocolVersion))
		return nil, err
	}
	if params.ProtocolVersion == "" {
		logger.Warn("client omitted protocolVersion, defaulting to latest", zap.String("negotiated", negotiated))
	} else if negotiated != params.ProtocolVersion {
		logger.Info("negotiated a version below the client's request",
			zap.String("requested", params.ProtocolVersion), zap.String("negotiated", negotiated))
	}

	existing, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	existing.ClientInfo = params.ClientInfo
	existing.ClientCapabilities = params.Capabilities
	existing.NegotiatedVersion = negotiated
	serverCaps := m.info.ServerCapabilities()
	existing.ServerCapabilities = serverCaps
	if m.mode == ModeLenient {
		// Lenient: the session is considered initialized the moment the
		// initialize response is produced (spec.md §4.4), rather than
		// waiting for notifications/initialized.
		existing.Initialized = true
	}
	if err := m.store.Update(ctx, existing); err != nil {
		return nil, err
	}

	return &InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    serverCaps,
		ServerInfo:      m.info.ServerInfo(),
	}, nil
}

// HandleInitialized implements the notifications/initialized handler.
// A repeat notification on an already-initialized session is a no-op
// (see DESIGN.md Open Question 1), matching the teacher's
// handleNotificationInitialized treating a second notification on an
// already-connected session as a harmless "Ignoring" case.
func (m *Manager) HandleInitialized(ctx context.Context, sessionID string) error {
	logger := m.logger.With(zap.String("session_id", sessionID), zap.String("method", "notifications/initialized"))

	info, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if info.Initialized {
		logger.Debug("received initialized notification for already-connected session, ignoring")
		return nil
	}
	if info.NegotiatedVersion == "" {
		logger.Error("received initialized notification before a successful initialize handshake")
		return fmt.Errorf("session: initialized received before initialize")
	}

	info.Initialized = true
	if err := m.store.Update(ctx, info); err != nil {
		return err
	}
	logger.Info("session initialized", zap.String("negotiated_version", info.NegotiatedVersion))
	return nil
}

// Gate enforces the lifecycle ordering for everything except the
// lifecycle methods themselves. Callers (the dispatcher) invoke this
// before dispatching any method other than initialize/initialized/ping.
// Under ModeLenient, HandleInitialize already marks the session
// Initialized, so both modes reduce to the same check here — the
// difference is entirely in when Initialized gets set.
func (m *Manager) Gate(ctx context.Context, sessionID string) error {
	info, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if info.Initialized {
		return nil
	}
	return ErrNotInitialized
}

// Touch refreshes a session's last-active timestamp.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.store.Touch(ctx, sessionID)
}

// GetState reads a single state key, for callers (the dispatcher's
// SessionView) that only need keyed access without the full Store
// interface.
func (m *Manager) GetState(ctx context.Context, sessionID, key string) (json.RawMessage, bool, error) {
	return m.store.GetState(ctx, sessionID, key)
}

// GetMetadata reads a single metadata key.
func (m *Manager) GetMetadata(ctx context.Context, sessionID, key string) (json.RawMessage, bool, error) {
	return m.store.GetMetadata(ctx, sessionID, key)
}

// ApplySessionInjection writes a batch of state/metadata patches,
// letting dispatch.Dispatcher depend on a narrow Injector interface
// instead of the full Store.
func (m *Manager) ApplySessionInjection(ctx context.Context, sessionID string, state, metadata map[string]json.RawMessage) error {
	for k, v := range state {
		if err := m.store.SetState(ctx, sessionID, k, v); err != nil {
			return err
		}
	}
	for k, v := range metadata {
		if err := m.store.SetMetadata(ctx, sessionID, k, v); err != nil {
			return err
		}
	}
	return nil
}

// SessionExists reports whether a session id currently has a record.
func (m *Manager) SessionExists(ctx context.Context, sessionID string) bool {
	_, err := m.store.Get(ctx, sessionID)
	return err == nil
}

// Terminate marks a session terminated (spec.md §4.6.3: "setting
// terminated=true and terminated_at in state") and touches it so the
// TTL sweep eventually reclaims it, rather than deleting it outright.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	info, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	info.Terminated = true
	if err := m.store.Update(ctx, info); err != nil {
		return err
	}
	terminatedAt, _ := json.Marshal(time.Now().UTC())
	if err := m.store.SetState(ctx, sessionID, "terminated_at", terminatedAt); err != nil {
		return err
	}
	return m.store.Touch(ctx, sessionID)
}

// Publish enqueues a notification on a single session's channel —
// spec.md §4.4's per-session broadcast channel, distinct from the global
// one Broadcast fans out on. Handlers that already know which session a
// notification belongs to (a tools/call progress update, a task status
// change) should call this instead of Broadcast, so the notification
// only ever reaches that session's stream. Returns false if the session
// has no open channel (already closed or never created).
func (m *Manager) Publish(ctx context.Context, sessionID, method string, params any) bool {
	raw, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		m.logger.Error("failed to encode publish notification", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	msg := jsonrpc.Decode(raw)

	m.broadcastMu.RLock()
	defer m.broadcastMu.RUnlock()
	ch, ok := m.broadcast[sessionID]
	if !ok {
		return false
	}
	select {
	case ch <- *msg:
		return true
	default:
		m.logger.Warn("dropping published notification: session channel full", zap.String("session_id", sessionID), zap.String("method", method))
		return false
	}
}

// Broadcast enqueues a notification on every session that has an open
// channel, whether or not it is initialized. A full channel drops the message
// rather than blocking the broadcaster — best-effort fan-out. Use
// Publish instead when the notification targets one known session.
func (m *Manager) Broadcast(ctx context.Context, method string, params any) {
	raw, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		m.logger.Error("failed to encode broadcast notification", zap.Error(err))
		return
	}
	msg := jsonrpc.Decode(raw)

	m.broadcastMu.RLock()
	defer m.broadcastMu.RUnlock()
	sent := 0
	for id, ch := range m.broadcast {
		select {
		case ch <- *msg:
			sent++
		default:
			m.logger.Warn("dropping broadcast notification: session channel full", zap.String("session_id", id), zap.String("method", method))
		}
	}
	m.logger.Debug("broadcast notification", zap.String("method", method), zap.Int("recipients", sent))
}

// Notifications returns the per-session broadcast channel for a stream
// manager to drain, or false if the session has no open channel.
func (m *Manager) Notifications(sessionID string) (<-chan jsonrpc.Message, bool) {
	m.broadcastMu.RLock()
	defer m.broadcastMu.RUnlock()
	ch, ok := m.broadcast[sessionID]
	return ch, ok
}

// SweepIdle runs the TTL eviction pass against the store and closes each
// expired session's broadcast channel.
func (m *Manager) SweepIdle(ctx context.Context, ttl time.Duration) ([]string, error) {
	expired, err := m.store.ExpireOlderThan(ctx, ttl)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	m.broadcastMu.Lock()
	for _, id := range expired {
		if ch, ok := m.broadcast[id]; ok {
			close(ch)
			delete(m.broadcast, id)
		}
	}
	m.broadcastMu.Unlock()
	m.logger.Info("swept idle sessions", zap.Int("count", len(expired)))
	return expired, nil
}

// RunIdleSweep runs SweepIdle on a ticker until ctx is cancelled,
// grounded on the teacher's CleanupIdleSessions sweep, promoted here to a
// self-driving background loop (the teacher calls it from an external
// cron-like caller; spec.md requires the manager own the sweep).
func (m *Manager) RunIdleSweep(ctx context.Context, ttl time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepIdle(ctx, ttl); err != nil {
				m.logger.Error("idle sweep failed", zap.Error(err))
			}
		}
	}
}
