package taskstore

import (
	"context"
	"time"
)

// Page is a cursor-paginated slice of task records (spec.md §4.7
// "Pagination"). NextCursor is empty when the page was not full, i.e.
// there is nothing more to fetch.
type Page struct {
	Tasks      []*Record
	NextCursor string
}

// Store is the task persistence contract (spec.md §4.7). Both backends
// (embedded SQLite, networked Postgres) implement it identically and
// are exercised by the same parity suite.
type Store interface {
	// CreateTask inserts record, filling CreatedAt/LastUpdatedAt if zero
	// and setting Version=1. Fails ErrMaxTasksReached if a configured cap
	// is reached.
	CreateTask(ctx context.Context, record *Record) (*Record, error)
	// GetTask returns (nil, nil) if the id is absent — the Option per
	// spec.md's "Returns Option" wording, modeled as a nil pointer rather
	// than a boolean flag, matching this module's Go idiom elsewhere.
	GetTask(ctx context.Context, id string) (*Record, error)
	// UpdateTask is a full replacement. Bumps Version. Does NOT validate
	// the state machine — for non-status edits only. ErrNotFound if
	// missing.
	UpdateTask(ctx context.Context, record *Record) (*Record, error)
	// UpdateTaskStatus validates the transition, applies it with a
	// version-guarded write, and returns the refreshed record.
	// ErrConcurrentModified if the guard matched zero rows.
	UpdateTaskStatus(ctx context.Context, id string, newStatus Status, statusMessage string) (*Record, error)
	// StoreTaskResult overwrites Result and bumps Version without
	// touching Status. ErrNotFound if absent.
	StoreTaskResult(ctx context.Context, id string, outcome Outcome) (*Record, error)
	// GetTaskResult returns (nil, nil) if the task has no result yet;
	// ErrNotFound if the task itself is missing.
	GetTaskResult(ctx context.Context, id string) (*Outcome, error)
	// DeleteTask reports whether a row existed to delete.
	DeleteTask(ctx context.Context, id string) (bool, error)
	// ListTasks resolves cursor (gracefully restarting from the
	// beginning if the cursor id is stale/missing) and returns up to
	// limit tasks ordered by (created_at, task_id) ascending.
	ListTasks(ctx context.Context, cursor string, limit int) (*Page, error)
	// ListTasksForSession is ListTasks filtered to one session.
	ListTasksForSession(ctx context.Context, sessionID, cursor string, limit int) (*Page, error)
	// ExpireTasks deletes tasks whose TTL has elapsed and returns their
	// ids.
	ExpireTasks(ctx context.Context) ([]string, error)
	// RecoverStuckTasks transitions every non-terminal task whose
	// LastUpdatedAt is older than maxAge to Failed with the literal
	// message "Server restarted — task interrupted", returning their ids.
	RecoverStuckTasks(ctx context.Context, maxAge time.Duration) ([]string, error)
	// Maintenance runs backend-specific housekeeping; spec.md §4.7
	// decides expire_tasks runs before recover_stuck_tasks here.
	Maintenance(ctx context.Context) error

	Close() error
}

const stuckTaskMessage = "Server restarted — task interrupted"

// DefaultListLimit bounds ListTasks/ListTasksForSession when the caller
// passes a non-positive limit.
const DefaultListLimit = 50
