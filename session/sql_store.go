package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Dialect papers over the one wire-level difference between the two SQL
// backends the task requires support for: positional ($1, $2, ...) vs
// ordinal (?) bind placeholders. Everything else — schema, queries,
// NULL handling — is identical, grounded on the teacher's
// shared/config.DatabaseConfig (database/sql + errors.Is(sql.ErrNoRows)
// translated to a domain sentinel, see GetUserIDByKeyHash).
type Dialect int

const (
	// DialectPostgres uses $1-style placeholders (github.com/lib/pq).
	DialectPostgres Dialect = iota
	// DialectSQLite uses ?-style placeholders (modernc.org/sqlite).
	DialectSQLite
)

// SQLStore is a database/sql-backed Store usable with either lib/pq or
// modernc.org/sqlite, selected by Dialect. Callers open the *sql.DB with
// the driver of their choice (sql.Open("postgres", dsn) or
// sql.Open("sqlite", dsn)) and hand it to NewSQLStore.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an already-open *sql.DB. It does not take ownership
// of schema creation beyond EnsureSchema, which callers invoke once at
// startup.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger.Named("session.sql")}
}

// bind rewrites a query containing ?-placeholders into the dialect's
// native placeholder style. Callers always write queries using ? and
// call bind before executing.
func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates the mcp_sessions/mcp_session_state/mcp_session_metadata tables
// if they do not already exist. Column types are kept to the lowest
// common denominator the two dialects both accept (TEXT/TIMESTAMP/BOOLEAN).
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mcp_sessions (
			id TEXT PRIMARY KEY,
			client_name TEXT NOT NULL DEFAULT '',
			client_version TEXT NOT NULL DEFAULT '',
			client_capabilities TEXT,
			server_capabilities TEXT,
			negotiated_version TEXT NOT NULL DEFAULT '',
			initialized BOOLEAN NOT NULL DEFAULT FALSE,
			terminated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_session_state (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (session_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_session_metadata (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (session_id, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &BackendError{Op: "ensure_schema", Err: err}
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context) (*Info, error) {
	return s.CreateWithID(ctx, newSessionID())
}

func (s *SQLStore) CreateWithID(ctx context.Context, id string) (*Info, error) {
	info := NewInfo(id)
	query := s.bind(`INSERT INTO mcp_sessions
		(id, client_name, client_version, negotiated_version, initialized, terminated, created_at, last_active_at)
		VALUES (?, '', '', '', FALSE, FALSE, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, id, info.CreatedAt, info.LastActiveAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, &BackendError{Op: "create", Err: err}
	}
	return info, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Info, error) {
	query := s.bind(`SELECT client_name, client_version, client_capabilities, server_capabilities,
		negotiated_version, initialized, terminated, created_at, last_active_at
		FROM mcp_sessions WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)

	var clientName, clientVersion, negotiatedVersion string
	var clientCaps, serverCaps sql.NullString
	var initialized, terminated bool
	var createdAt, lastActiveAt time.Time
	err := row.Scan(&clientName, &clientVersion, &clientCaps, &serverCaps,
		&negotiatedVersion, &initialized, &terminated, &createdAt, &lastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &BackendError{Op: "get", Err: err}
	}

	info := NewInfo(id)
	info.ClientInfo = ClientInfo{Name: clientName, Version: clientVersion}
	if clientCaps.Valid {
		info.ClientCapabilities = json.RawMessage(clientCaps.String)
	}
	if serverCaps.Valid {
		info.ServerCapabilities = json.RawMessage(serverCaps.String)
	}
	info.NegotiatedVersion = negotiatedVersion
	info.Initialized = initialized
	info.Terminated = terminated
	info.CreatedAt = createdAt
	info.LastActiveAt = lastActiveAt

	if err := s.loadKV(ctx, "mcp_session_state", id, info.state); err != nil {
		return nil, err
	}
	if err := s.loadKV(ctx, "mcp_session_metadata", id, info.metadata); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *SQLStore) loadKV(ctx context.Context, table, id string, into map[string]json.RawMessage) error {
	query := s.bind(fmt.Sprintf(`SELECT key, value FROM %s WHERE session_id = ?`, table))
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return &BackendError{Op: "load_kv:" + table, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return &BackendError{Op: "load_kv_scan:" + table, Err: err}
		}
		into[key] = json.RawMessage(value)
	}
	return rows.Err()
}

func (s *SQLStore) Update(ctx context.Context, update *Info) error {
	query := s.bind(`UPDATE mcp_sessions SET
		client_name = ?, client_version = ?, client_capabilities = ?, server_capabilities = ?,
		negotiated_version = ?, initialized = ?, terminated = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		update.ClientInfo.Name, update.ClientInfo.Version,
		nullableString(update.ClientCapabilities), nullableString(update.ServerCapabilities),
		update.NegotiatedVersion, update.Initialized, update.Terminated, update.ID)
	if err != nil {
		return &BackendError{Op: "update", Err: err}
	}
	return checkRowsAffected(res)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM mcp_sessions WHERE id = ?`), id)
	if err != nil {
		return &BackendError{Op: "delete", Err: err}
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM mcp_session_state WHERE session_id = ?`), id); err != nil {
		return &BackendError{Op: "delete_state", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM mcp_session_metadata WHERE session_id = ?`), id); err != nil {
		return &BackendError{Op: "delete_metadata", Err: err}
	}
	return nil
}

func (s *SQLStore) setKV(ctx context.Context, table, id, key string, value Capabilities) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	del := s.bind(fmt.Sprintf(`DELETE FROM %s WHERE session_id = ? AND key = ?`, table))
	if _, err := s.db.ExecContext(ctx, del, id, key); err != nil {
		return &BackendError{Op: "set_kv_delete:" + table, Err: err}
	}
	ins := s.bind(fmt.Sprintf(`INSERT INTO %s (session_id, key, value) VALUES (?, ?, ?)`, table))
	if _, err := s.db.ExecContext(ctx, ins, id, key, string(value)); err != nil {
		return &BackendError{Op: "set_kv_insert:" + table, Err: err}
	}
	return nil
}

func (s *SQLStore) getKV(ctx context.Context, table, id, key string) (Capabilities, bool, error) {
	query := s.bind(fmt.Sprintf(`SELECT value FROM %s WHERE session_id = ? AND key = ?`, table))
	var value string
	err := s.db.QueryRowContext(ctx, query, id, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &BackendError{Op: "get_kv:" + table, Err: err}
	}
	return Capabilities(value), true, nil
}

func (s *SQLStore) SetState(ctx context.Context, id, key string, value Capabilities) error {
	return s.setKV(ctx, "mcp_session_state", id, key, value)
}

func (s *SQLStore) GetState(ctx context.Context, id, key string) (Capabilities, bool, error) {
	return s.getKV(ctx, "mcp_session_state", id, key)
}

func (s *SQLStore) SetMetadata(ctx context.Context, id, key string, value Capabilities) error {
	return s.setKV(ctx, "mcp_session_metadata", id, key, value)
}

func (s *SQLStore) GetMetadata(ctx context.Context, id, key string) (Capabilities, bool, error) {
	return s.getKV(ctx, "mcp_session_metadata", id, key)
}

func (s *SQLStore) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE mcp_sessions SET last_active_at = ? WHERE id = ?`),
		time.Now().UTC(), id)
	if err != nil {
		return &BackendError{Op: "touch", Err: err}
	}
	return checkRowsAffected(res)
}

func (s *SQLStore) ExpireOlderThan(ctx context.Context, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	query := s.bind(`SELECT id FROM mcp_sessions WHERE last_active_at < ?`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, &BackendError{Op: "expire_select", Err: err}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &BackendError{Op: "expire_scan", Err: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &BackendError{Op: "expire_rows", Err: err}
	}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to delete expired session", zap.String("session_id", id), zap.Error(err))
		}
	}
	return ids, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		// Driver doesn't support RowsAffected (rare); assume success.
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

// isUniqueViolation is a best-effort check across the two drivers this
// store targets (lib/pq and modernc.org/sqlite); both surface unique-key
// violations as a textual error rather than a typed sentinel we can
// errors.As against portably.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate key")
}
