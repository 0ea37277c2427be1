package taskstore

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// PostgresStore is the networked backend (github.com/lib/pq), grounded
// on the teacher's shared/config/database.go (sql.Open("postgres", ...)
// plus errors.Is(sql.ErrNoRows) translation) and mcp-go-sdk's
// examples/postgres. Open the *sql.DB with sql.Open("postgres", dsn)
// and hand it to NewPostgresStore.
type PostgresStore struct {
	*sqlStore
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*sqlStore)

// WithPostgresMaxTasks caps the total task count CreateTask will accept.
func WithPostgresMaxTasks(n int) PostgresOption {
	return func(s *sqlStore) { s.maxTasks = n }
}

// WithPostgresStuckAge overrides the default age recover_stuck_tasks
// uses inside the background maintenance loop.
func WithPostgresStuckAge(d time.Duration) PostgresOption {
	return func(s *sqlStore) { s.stuckAge = d }
}

// NewPostgresStore builds a PostgresStore, ensures its schema, and, when
// maintenanceInterval is positive, spawns the background maintenance
// loop (spec.md §4.7 "Background cleanup").
func NewPostgresStore(ctx context.Context, db *sql.DB, logger *zap.Logger, maintenanceInterval time.Duration, opts ...PostgresOption) (*PostgresStore, error) {
	engine := newSQLStore(db, dialectPostgres, logger, 0, 0)
	for _, opt := range opts {
		opt(engine)
	}
	if err := engine.ensureSchema(ctx); err != nil {
		return nil, err
	}
	engine.stopMaintenance = make(chan struct{})
	if maintenanceInterval > 0 {
		go engine.runMaintenanceLoop(ctx, maintenanceInterval, engine.stuckAge)
	}
	return &PostgresStore{sqlStore: engine}, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, record *Record) (*Record, error) {
	return s.createTask(ctx, record)
}
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*Record, error) {
	return s.getTask(ctx, id)
}
func (s *PostgresStore) UpdateTask(ctx context.Context, record *Record) (*Record, error) {
	return s.updateTask(ctx, record)
}
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, newStatus Status, statusMessage string) (*Record, error) {
	return s.updateTaskStatus(ctx, id, newStatus, statusMessage)
}
func (s *PostgresStore) StoreTaskResult(ctx context.Context, id string, outcome Outcome) (*Record, error) {
	return s.storeTaskResult(ctx, id, outcome)
}
func (s *PostgresStore) GetTaskResult(ctx context.Context, id string) (*Outcome, error) {
	return s.getTaskResult(ctx, id)
}
func (s *PostgresStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	return s.deleteTask(ctx, id)
}
func (s *PostgresStore) ListTasks(ctx context.Context, cursor string, limit int) (*Page, error) {
	return s.listTasks(ctx, "", cursor, limit)
}
func (s *PostgresStore) ListTasksForSession(ctx context.Context, sessionID, cursor string, limit int) (*Page, error) {
	return s.listTasks(ctx, sessionID, cursor, limit)
}
func (s *PostgresStore) ExpireTasks(ctx context.Context) ([]string, error) {
	return s.expireTasks(ctx)
}
func (s *PostgresStore) RecoverStuckTasks(ctx context.Context, maxAge time.Duration) ([]string, error) {
	return s.recoverStuckTasks(ctx, maxAge)
}
func (s *PostgresStore) Maintenance(ctx context.Context) error { return s.maintenance(ctx) }
func (s *PostgresStore) Close() error                          { return s.close() }
