package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// dialect papers over the one wire-level difference between the two
// backends: positional ($1, $2, ...) vs ordinal (?) bind placeholders.
// Grounded on session.SQLStore's identical Dialect/bind split, which is
// in turn grounded on the teacher's shared/config.DatabaseConfig
// (database/sql + errors.Is(sql.ErrNoRows) translated to a domain
// sentinel).
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) bind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore is the shared engine behind SQLiteStore and PostgresStore.
// Query text is written once, in ordinal (?) form, and rewritten per
// dialect by bind().
type sqlStore struct {
	db       *sql.DB
	dialect  dialect
	logger   *zap.Logger
	maxTasks int
	stuckAge time.Duration

	stopMaintenance chan struct{}
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger, maxTasks int, stuckAge time.Duration) *sqlStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stuckAge <= 0 {
		stuckAge = 10 * time.Minute
	}
	return &sqlStore{db: db, dialect: d, logger: logger, maxTasks: maxTasks, stuckAge: stuckAge}
}

func (s *sqlStore) bind(q string) string { return s.dialect.bind(q) }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	status TEXT NOT NULL,
	status_message TEXT,
	created_at TIMESTAMP NOT NULL,
	last_updated_at TIMESTAMP NOT NULL,
	ttl_ms BIGINT,
	poll_interval_ms BIGINT,
	original_method TEXT,
	original_params TEXT,
	result TEXT,
	meta TEXT,
	version BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at, id);
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks (session_id, created_at, id);
`

// ensureSchema creates the tasks table if absent. Column types are the
// lowest-common-denominator set both lib/pq and modernc.org/sqlite
// accept, matching session.SQLStore.EnsureSchema's approach.
func (s *sqlStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaDDL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("taskstore: ensure schema: %w", err)
		}
	}
	return nil
}

func marshalMeta(meta map[string]json.RawMessage) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalMeta(raw sql.NullString) (map[string]json.RawMessage, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func marshalOutcome(o *Outcome) (sql.NullString, error) {
	if o == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalOutcome(raw sql.NullString) (*Outcome, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var o Outcome
	if err := json.Unmarshal([]byte(raw.String), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullRawMessage(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func toRawMessage(raw sql.NullString) json.RawMessage {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.RawMessage(raw.String)
}

// scanRow scans one tasks row into a Record. Column order must match
// selectColumns.
const selectColumns = `id, session_id, status, status_message, created_at, last_updated_at, ttl_ms, poll_interval_ms, original_method, original_params, result, meta, version`

func scanRow(row interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id, status                         string
		sessionID, statusMessage, origMeth sql.NullString
		createdAt, lastUpdatedAt           time.Time
		ttlMs, pollMs                      sql.NullInt64
		origParams, result, meta           sql.NullString
		version                            int64
	)
	if err := row.Scan(&id, &sessionID, &status, &statusMessage, &createdAt, &lastUpdatedAt,
		&ttlMs, &pollMs, &origMeth, &origParams, &result, &meta, &version); err != nil {
		return nil, err
	}
	outcome, err := unmarshalOutcome(result)
	if err != nil {
		return nil, err
	}
	metaMap, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:             id,
		SessionID:      sessionID.String,
		Status:         Status(status),
		StatusMessage:  statusMessage.String,
		CreatedAt:      createdAt.UTC(),
		LastUpdatedAt:  lastUpdatedAt.UTC(),
		TTLMillis:      fromNullInt64(ttlMs),
		PollIntervalMs: fromNullInt64(pollMs),
		OriginalMethod: origMeth.String,
		OriginalParams: toRawMessage(origParams),
		Result:         outcome,
		Meta:           metaMap,
		Version:        version,
	}, nil
}

func (s *sqlStore) createTask(ctx context.Context, record *Record) (*Record, error) {
	if s.maxTasks > 0 {
		var count int
		if err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(*) FROM tasks`)).Scan(&count); err != nil {
			return nil, fmt.Errorf("taskstore: count tasks: %w", err)
		}
		if count >= s.maxTasks {
			return nil, ErrMaxTasksReached
		}
	}

	now := time.Now().UTC()
	r := record.Clone()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.LastUpdatedAt.IsZero() {
		r.LastUpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = Working
	}
	r.Version = 1

	meta, err := marshalMeta(r.Meta)
	if err != nil {
		return nil, err
	}
	result, err := marshalOutcome(r.Result)
	if err != nil {
		return nil, err
	}

	query := s.bind(`INSERT INTO tasks (` + selectColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err = s.db.ExecContext(ctx, query,
		r.ID, nullString(r.SessionID), string(r.Status), nullString(r.StatusMessage),
		r.CreatedAt, r.LastUpdatedAt, nullInt64(r.TTLMillis), nullInt64(r.PollIntervalMs),
		nullString(r.OriginalMethod), nullRawMessage(r.OriginalParams), result, meta, r.Version)
	if err != nil {
		return nil, fmt.Errorf("taskstore: create task: %w", err)
	}
	return r, nil
}

func (s *sqlStore) getTask(ctx context.Context, id string) (*Record, error) {
	query := s.bind(`SELECT ` + selectColumns + ` FROM tasks WHERE id=?`)
	row := s.db.QueryRowContext(ctx, query, id)
	record, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: get task: %w", err)
	}
	return record, nil
}

func (s *sqlStore) updateTask(ctx context.Context, record *Record) (*Record, error) {
	existing, err := s.getTask(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	r := record.Clone()
	r.Version = existing.Version + 1
	r.LastUpdatedAt = time.Now().UTC()

	meta, err := marshalMeta(r.Meta)
	if err != nil {
		return nil, err
	}
	result, err := marshalOutcome(r.Result)
	if err != nil {
		return nil, err
	}

	query := s.bind(`UPDATE tasks SET session_id=?, status=?, status_message=?, last_updated_at=?,
		ttl_ms=?, poll_interval_ms=?, original_method=?, original_params=?, result=?, meta=?, version=?
		WHERE id=? AND version=?`)
	res, err := s.db.ExecContext(ctx, query,
		nullString(r.SessionID), string(r.Status), nullString(r.StatusMessage), r.LastUpdatedAt,
		nullInt64(r.TTLMillis), nullInt64(r.PollIntervalMs), nullString(r.OriginalMethod),
		nullRawMessage(r.OriginalParams), result, meta, r.Version, r.ID, existing.Version)
	if err != nil {
		return nil, fmt.Errorf("taskstore: update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("taskstore: update task rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrConcurrentModified
	}
	r.CreatedAt = existing.CreatedAt
	return r, nil
}

func (s *sqlStore) updateTaskStatus(ctx context.Context, id string, newStatus Status, statusMessage string) (*Record, error) {
	existing, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if err := ValidateTransition(existing.Status, newStatus); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := s.bind(`UPDATE tasks SET status=?, status_message=?, last_updated_at=?, version=?
		WHERE id=? AND version=?`)
	res, err := s.db.ExecContext(ctx, query, string(newStatus), nullString(statusMessage), now, existing.Version+1, id, existing.Version)
	if err != nil {
		return nil, fmt.Errorf("taskstore: update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("taskstore: update task status rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrConcurrentModified
	}
	return s.getTask(ctx, id)
}

func (s *sqlStore) storeTaskResult(ctx context.Context, id string, outcome Outcome) (*Record, error) {
	existing, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	result, err := marshalOutcome(&outcome)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	query := s.bind(`UPDATE tasks SET result=?, last_updated_at=?, version=? WHERE id=? AND version=?`)
	res, err := s.db.ExecContext(ctx, query, result, now, existing.Version+1, id, existing.Version)
	if err != nil {
		return nil, fmt.Errorf("taskstore: store task result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("taskstore: store task result rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrConcurrentModified
	}
	return s.getTask(ctx, id)
}

func (s *sqlStore) getTaskResult(ctx context.Context, id string) (*Outcome, error) {
	record, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record.Result, nil
}

func (s *sqlStore) deleteTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM tasks WHERE id=?`), id)
	if err != nil {
		return false, fmt.Errorf("taskstore: delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("taskstore: delete task rows affected: %w", err)
	}
	return n > 0, nil
}

// resolveCursor implements spec.md §4.7's two-step pagination: look up
// the cursor id's (created_at, id) tuple, and fall back to the
// beginning if the id is stale or absent.
func (s *sqlStore) resolveCursor(ctx context.Context, cursor string) (time.Time, string, bool) {
	if cursor == "" {
		return time.Time{}, "", false
	}
	var createdAt time.Time
	var id string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT created_at, id FROM tasks WHERE id=?`), cursor).Scan(&createdAt, &id)
	if err != nil {
		return time.Time{}, "", false
	}
	return createdAt.UTC(), id, true
}

func (s *sqlStore) listTasks(ctx context.Context, sessionFilter string, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	createdAt, id, hasCursor := s.resolveCursor(ctx, cursor)

	var query string
	args := []any{}
	switch {
	case sessionFilter != "" && hasCursor:
		query = `SELECT ` + selectColumns + ` FROM tasks WHERE session_id=? AND (created_at > ? OR (created_at = ? AND id > ?)) ORDER BY created_at ASC, id ASC LIMIT ?`
		args = append(args, sessionFilter, createdAt, createdAt, id, limit)
	case sessionFilter != "":
		query = `SELECT ` + selectColumns + ` FROM tasks WHERE session_id=? ORDER BY created_at ASC, id ASC LIMIT ?`
		args = append(args, sessionFilter, limit)
	case hasCursor:
		query = `SELECT ` + selectColumns + ` FROM tasks WHERE (created_at > ? OR (created_at = ? AND id > ?)) ORDER BY created_at ASC, id ASC LIMIT ?`
		args = append(args, createdAt, createdAt, id, limit)
	default:
		query = `SELECT ` + selectColumns + ` FROM tasks ORDER BY created_at ASC, id ASC LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore: scan task row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskstore: list tasks rows: %w", err)
	}

	page := &Page{Tasks: out}
	if len(out) == limit {
		page.NextCursor = out[len(out)-1].ID
	}
	return page, nil
}

func (s *sqlStore) expireTasks(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT id, created_at, ttl_ms FROM tasks WHERE ttl_ms IS NOT NULL`))
	if err != nil {
		return nil, fmt.Errorf("taskstore: expire tasks scan: %w", err)
	}
	type cand struct {
		id        string
		createdAt time.Time
		ttl       int64
	}
	var candidates []cand
	for rows.Next() {
		var c cand
		var ttl sql.NullInt64
		if err := rows.Scan(&c.id, &c.createdAt, &ttl); err != nil {
			rows.Close()
			return nil, fmt.Errorf("taskstore: expire tasks row: %w", err)
		}
		if ttl.Valid {
			c.ttl = ttl.Int64
			candidates = append(candidates, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskstore: expire tasks rows: %w", err)
	}

	var expired []string
	for _, c := range candidates {
		if c.createdAt.Add(time.Duration(c.ttl) * time.Millisecond).Before(now) {
			if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM tasks WHERE id=?`), c.id); err != nil {
				s.logger.Warn("failed to delete expired task", zap.String("task_id", c.id), zap.Error(err))
				continue
			}
			expired = append(expired, c.id)
		}
	}
	return expired, nil
}

func (s *sqlStore) recoverStuckTasks(ctx context.Context, maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT id, status FROM tasks WHERE last_updated_at < ?`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("taskstore: recover stuck tasks scan: %w", err)
	}
	type cand struct{ id, status string }
	var candidates []cand
	for rows.Next() {
		var c cand
		if err := rows.Scan(&c.id, &c.status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("taskstore: recover stuck tasks row: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskstore: recover stuck tasks rows: %w", err)
	}

	var recovered []string
	now := time.Now().UTC()
	for _, c := range candidates {
		if Status(c.status).Terminal() {
			continue
		}
		query := s.bind(`UPDATE tasks SET status=?, status_message=?, last_updated_at=?, version=version+1 WHERE id=?`)
		if _, err := s.db.ExecContext(ctx, query, string(Failed), stuckTaskMessage, now, c.id); err != nil {
			s.logger.Warn("failed to recover stuck task", zap.String("task_id", c.id), zap.Error(err))
			continue
		}
		recovered = append(recovered, c.id)
	}
	return recovered, nil
}

// runMaintenanceLoop spawns the periodic background cleanup spec.md
// §4.7 requires on construction: expire_tasks runs first (see
// DESIGN.md's Open Question decision), recover_stuck_tasks second.
// Errors are logged but never propagate or stop the loop.
func (s *sqlStore) runMaintenanceLoop(ctx context.Context, interval, stuckAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopMaintenance:
			return
		case <-ticker.C:
			if _, err := s.expireTasks(ctx); err != nil {
				s.logger.Warn("maintenance: expire_tasks failed", zap.Error(err))
			}
			if _, err := s.recoverStuckTasks(ctx, stuckAge); err != nil {
				s.logger.Warn("maintenance: recover_stuck_tasks failed", zap.Error(err))
			}
		}
	}
}

func (s *sqlStore) maintenance(ctx context.Context) error {
	if _, err := s.expireTasks(ctx); err != nil {
		return err
	}
	_, err := s.recoverStuckTasks(ctx, s.stuckAge)
	return err
}

func (s *sqlStore) close() error {
	if s.stopMaintenance != nil {
		close(s.stopMaintenance)
	}
	return s.db.Close()
}
