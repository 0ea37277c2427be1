// Package mcpserver wires the jsonrpc/session/stream/dispatch/transport/
// taskstore packages together into one runnable MCP server and supplies
// the core JSON-RPC methods spec.md §6.3 names (initialize,
// notifications/initialized, ping, plus the delegated registries for
// tools/resources/prompts/logging).
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/arcrun/mcprt/dispatch"
	"github.com/arcrun/mcprt/session"
	"github.com/arcrun/mcprt/stream"
	"github.com/arcrun/mcprt/taskstore"
	"github.com/arcrun/mcprt/transport"
)

// Server is the fully wired MCP runtime: session lifecycle, SSE stream
// fan-out, method dispatch, and the HTTP transport binding them
// together, plus (optionally) a task storage engine for long-running
// tool calls. Grounded on the teacher's server.Start /
// server.ServerBuilder, which assembles the same set of collaborators
// behind a functional-options builder and returns a listener-error
// channel rather than blocking.
type Server struct {
	logger     *zap.Logger
	sessions   *session.Manager
	streams    *stream.Manager
	dispatcher *dispatch.Dispatcher
	transport  *transport.Transport
	tasks      taskstore.Store

	httpServer    *http.Server
	addr          string
	transportOpts []transport.Option
	sessionOpts   []session.Option

	idleSweepTTL      time.Duration
	idleSweepInterval time.Duration
	maintenanceEvery  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address (default ":8080").
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTaskStore attaches a taskstore.Store; tools/call handlers for
// long-running work (spec.md §4.4's "task moved to the background"
// path) can create and poll records through it, and Run sweeps it
// periodically (expire_tasks, recover_stuck_tasks).
func WithTaskStore(store taskstore.Store) Option {
	return func(s *Server) { s.tasks = store }
}

// WithIdleSweep configures the periodic sweep that closes sessions idle
// past ttl, checked every interval. A zero interval disables the sweep.
func WithIdleSweep(ttl, interval time.Duration) Option {
	return func(s *Server) { s.idleSweepTTL, s.idleSweepInterval = ttl, interval }
}

// WithTransportOptions passes through transport.Option values to the
// underlying transport.Transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Server) { s.transportOpts = append(s.transportOpts, opts...) }
}

// WithLifecycleMode sets the strict/lenient lifecycle mode of the
// session.Manager built inside New, by queuing session.WithLifecycleMode
// onto the session options. New applies its Options before building the
// Manager, and the mode cannot be changed once the Manager exists.
func WithLifecycleMode(mode session.LifecycleMode) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, session.WithLifecycleMode(mode)) }
}

// WithSessionOptions passes through arbitrary session.Option values to
// the session.Manager built inside New.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// New builds a Server. info supplies the initialize response's
// serverInfo/capabilities; sessionStore lets the caller pick a session
// backend (memory or SQL) without this package importing every
// concrete backend itself.
func New(sessionStore session.Store, info session.ServerInfoProvider, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mcpserver")

	s := &Server{
		logger:            logger,
		addr:              ":8080",
		idleSweepTTL:      30 * time.Minute,
		idleSweepInterval: 5 * time.Minute,
		maintenanceEvery:  time.Minute,
	}
	// Applied before the session.Manager is built so options like
	// WithLifecycleMode can reach session.NewManager's own opts — once
	// the Manager exists its mode can no longer be changed.
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = session.NewManager(sessionStore, info, logger, s.sessionOpts...)
	s.streams = stream.NewManager(logger)

	injector := transport.ManagerInjector{Manager: s.sessions}
	s.dispatcher = dispatch.New(injector, logger)
	s.dispatcher.Use(NewLifecycleGate(s.sessions))
	registerCoreHandlers(s.dispatcher, s.sessions)

	s.transport = transport.New(s.sessions, s.streams, s.dispatcher, logger, s.transportOpts...)
	mux := http.NewServeMux()
	mux.Handle(s.transport.Path(), s.transport)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	return s
}

// Dispatcher exposes the dispatcher so callers can Register tool/
// resource/prompt handlers and Use additional middleware (e.g.
// rpcmw.Throttle, rpcmw.NewAuth) before calling Run.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Sessions exposes the session manager for handlers that need it
// (broadcasting notifications, reading session state).
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Streams exposes the stream manager.
func (s *Server) Streams() *stream.Manager { return s.streams }

// Tasks exposes the configured task store, or nil if none was set via
// WithTaskStore.
func (s *Server) Tasks() taskstore.Store { return s.tasks }

// ServeHTTP implements http.Handler by delegating to the MCP transport,
// so a Server can be mounted on a caller's own mux or test server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.transport.ServeHTTP(w, r) }

// Run starts the HTTP listener and background maintenance goroutines,
// blocking until ctx is cancelled or the listener fails. Grounded on
// the teacher's Start: an errgroup.Group coordinates the listener and
// the background sweeps so one failure tears the rest down, and
// shutdown gets a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.addr), zap.String("path", s.transport.Path()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcpserver: listener failed: %w", err)
		}
		return nil
	})

	if s.idleSweepInterval > 0 {
		group.Go(func() error {
			s.sessions.RunIdleSweep(gctx, s.idleSweepTTL, s.idleSweepInterval)
			return nil
		})
	}

	if s.tasks != nil && s.maintenanceEvery > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(s.maintenanceEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := s.tasks.Maintenance(gctx); err != nil {
						s.logger.Warn("task store maintenance failed", zap.Error(err))
					}
				}
			}
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	return group.Wait()
}

// Close immediately closes the HTTP listener without waiting for
// in-flight requests, for use outside of Run (e.g. in tests).
func (s *Server) Close() error {
	return s.httpServer.Close()
}
