package taskstore

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// SQLiteStore is the embedded, single-file backend (modernc.org/sqlite,
// pure Go, no cgo — matching the pack's toolhive/Unla precedent for a
// cgo-free embedded SQL choice). Open the *sql.DB with
// sql.Open("sqlite", dsn) and hand it to NewSQLiteStore.
type SQLiteStore struct {
	*sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*sqlStore)

// WithSQLiteMaxTasks caps the total task count CreateTask will accept.
func WithSQLiteMaxTasks(n int) SQLiteOption {
	return func(s *sqlStore) { s.maxTasks = n }
}

// WithSQLiteStuckAge overrides the default age recover_stuck_tasks uses
// inside the background maintenance loop.
func WithSQLiteStuckAge(d time.Duration) SQLiteOption {
	return func(s *sqlStore) { s.stuckAge = d }
}

// NewSQLiteStore builds a SQLiteStore, ensures its schema, and, when
// maintenanceInterval is positive, spawns the background maintenance
// loop (spec.md §4.7 "Background cleanup").
func NewSQLiteStore(ctx context.Context, db *sql.DB, logger *zap.Logger, maintenanceInterval time.Duration, opts ...SQLiteOption) (*SQLiteStore, error) {
	engine := newSQLStore(db, dialectSQLite, logger, 0, 0)
	for _, opt := range opts {
		opt(engine)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return nil, err
	}
	if err := engine.ensureSchema(ctx); err != nil {
		return nil, err
	}
	engine.stopMaintenance = make(chan struct{})
	if maintenanceInterval > 0 {
		go engine.runMaintenanceLoop(ctx, maintenanceInterval, engine.stuckAge)
	}
	return &SQLiteStore{sqlStore: engine}, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, record *Record) (*Record, error) {
	return s.createTask(ctx, record)
}
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Record, error) {
	return s.getTask(ctx, id)
}
func (s *SQLiteStore) UpdateTask(ctx context.Context, record *Record) (*Record, error) {
	return s.updateTask(ctx, record)
}
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, newStatus Status, statusMessage string) (*Record, error) {
	return s.updateTaskStatus(ctx, id, newStatus, statusMessage)
}
func (s *SQLiteStore) StoreTaskResult(ctx context.Context, id string, outcome Outcome) (*Record, error) {
	return s.storeTaskResult(ctx, id, outcome)
}
func (s *SQLiteStore) GetTaskResult(ctx context.Context, id string) (*Outcome, error) {
	return s.getTaskResult(ctx, id)
}
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	return s.deleteTask(ctx, id)
}
func (s *SQLiteStore) ListTasks(ctx context.Context, cursor string, limit int) (*Page, error) {
	return s.listTasks(ctx, "", cursor, limit)
}
func (s *SQLiteStore) ListTasksForSession(ctx context.Context, sessionID, cursor string, limit int) (*Page, error) {
	return s.listTasks(ctx, sessionID, cursor, limit)
}
func (s *SQLiteStore) ExpireTasks(ctx context.Context) ([]string, error) {
	return s.expireTasks(ctx)
}
func (s *SQLiteStore) RecoverStuckTasks(ctx context.Context, maxAge time.Duration) ([]string, error) {
	return s.recoverStuckTasks(ctx, maxAge)
}
func (s *SQLiteStore) Maintenance(ctx context.Context) error { return s.maintenance(ctx) }
func (s *SQLiteStore) Close() error                          { return s.close() }
