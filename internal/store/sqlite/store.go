// Package sqlite implements store.Store on a SQLite database via a
// fixed-size connection pool. All queries are parameterized; filters
// contribute conditions and bound arguments, never literal SQL values.
//
// The pool is safe for concurrent use. Individual connections are not;
// each method takes a connection and returns it when done.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/store"
)

// Config holds the parameters for opening a sqlite-backed store.
type Config struct {
	// Path is the database file path. The parent directory must
	// exist; the file is created on first open.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4 if
	// zero or negative. SQLite serializes writes regardless, so extra
	// connections only help concurrent reads.
	PoolSize int

	// Clock provides row timestamps for defaulted fields. Defaults to
	// the system clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to a discard
	// logger.
	Logger *slog.Logger
}

// Store implements store.Store on SQLite.
type Store struct {
	pool   *sqlitex.Pool
	clk    clock.Clock
	logger *slog.Logger
	path   string
}

// Open opens (creating if needed) the database at cfg.Path, applies
// pragmas, and bootstraps the schema. The caller must Close the store
// when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: Path is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)

	return &Store{
		pool:   pool,
		clk:    clk,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Close closes the connection pool, blocking until all borrowed
// connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

// CreateSession inserts a new session row
func (s *Store) CreateSession(ctx context.Context, session *store.Session) error {
	if session == nil {
		return fmt.Errorf("sqlite store: session cannot be nil")
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := s.clk.Now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.StartedAt
	}
	if session.Status == "" {
		session.Status = store.StatusPaused
	}
	session.Tags = store.NormalizeTags(session.Tags)

	tags, err := json.Marshal(tagsOrEmpty(session.Tags))
	if err != nil {
		return fmt.Errorf("sqlite store: encoding tags: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: create session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (
			id, project_name, project_path, repository_id, status,
			started_at, last_activity_at, ended_at, auto_created, tags,
			activity_count, memory_count, total_work_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				session.ID, session.ProjectName, session.ProjectPath,
				session.RepositoryID, string(session.Status),
				millis(session.StartedAt), millis(session.LastActivityAt),
				nullableMillis(session.EndedAt), boolInt(session.AutoCreated),
				string(tags), session.ActivityCount, session.MemoryCount,
				session.TotalWorkSecs,
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: create session %s: %w", session.ID, err)
	}
	return nil
}

const sessionColumns = `id, project_name, project_path, repository_id, status,
	started_at, last_activity_at, ended_at, auto_created, tags,
	activity_count, memory_count, total_work_seconds`

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get session: %w", err)
	}
	defer s.pool.Put(conn)

	var session *store.Session
	err = sqlitex.Execute(conn,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanSession(stmt)
				if err != nil {
					return err
				}
				session = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get session %s: %w", id, err)
	}
	if session == nil {
		return nil, store.ErrSessionNotFound
	}
	return session, nil
}

// FindSessions returns sessions matching the filter, newest activity
// first
func (s *Store) FindSessions(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: find sessions: %w", err)
	}
	defer s.pool.Put(conn)

	var conditions []string
	var args []any

	if filter.ProjectPath != "" {
		conditions = append(conditions, "project_path = ?")
		args = append(args, filter.ProjectPath)
	}
	if filter.ProjectName != "" {
		conditions = append(conditions, "project_name = ?")
		args = append(args, filter.ProjectName)
	}
	if filter.RepositoryID != "" {
		conditions = append(conditions, "repository_id = ?")
		args = append(args, filter.RepositoryID)
	}
	if filter.AutoCreated != nil {
		conditions = append(conditions, "auto_created = ?")
		args = append(args, boolInt(*filter.AutoCreated))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT " + sessionColumns + " FROM sessions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_activity_at DESC, id ASC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	var sessions []*store.Session
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			session, err := scanSession(stmt)
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: find sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus sets the status as of ts. Terminal statuses set
// ended_at; non-terminal statuses clear it.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status store.SessionStatus, ts time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: update session status: %w", err)
	}
	defer s.pool.Put(conn)

	var ended any
	if status.Terminal() {
		ended = millis(ts)
	}

	err = sqlitex.Execute(conn,
		"UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{string(status), ended, id}})
	if err != nil {
		return fmt.Errorf("sqlite store: update session %s status: %w", id, err)
	}
	if conn.Changes() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// PauseActiveExcept demotes every active session except keepID in one
// UPDATE
func (s *Store) PauseActiveExcept(ctx context.Context, keepID string, ts time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: pause active sessions: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE sessions SET status = ?, last_activity_at = ? WHERE status = ? AND id != ?",
		&sqlitex.ExecOptions{
			Args: []any{
				string(store.StatusPaused), millis(ts),
				string(store.StatusActive), keepID,
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: pause active sessions: %w", err)
	}
	return conn.Changes(), nil
}

// TouchSession sets last_activity_at = ts
func (s *Store) TouchSession(ctx context.Context, id string, ts time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: touch session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE sessions SET last_activity_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{millis(ts), id}})
	if err != nil {
		return fmt.Errorf("sqlite store: touch session %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// IncrementCounters applies the deltas. Counters never go negative.
func (s *Store) IncrementCounters(ctx context.Context, id string, deltas store.CounterDeltas) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: increment counters: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET
			activity_count     = MAX(0, activity_count + ?),
			memory_count       = MAX(0, memory_count + ?),
			total_work_seconds = MAX(0, total_work_seconds + ?)
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{deltas.Activity, deltas.Memory, deltas.WorkSeconds, id},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: increment counters for %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func scanSession(stmt *sqlite.Stmt) (*store.Session, error) {
	// Columns: id(0), project_name(1), project_path(2),
	// repository_id(3), status(4), started_at(5), last_activity_at(6),
	// ended_at(7), auto_created(8), tags(9), activity_count(10),
	// memory_count(11), total_work_seconds(12)
	session := &store.Session{
		ID:             stmt.ColumnText(0),
		ProjectName:    stmt.ColumnText(1),
		ProjectPath:    stmt.ColumnText(2),
		RepositoryID:   stmt.ColumnText(3),
		Status:         store.SessionStatus(stmt.ColumnText(4)),
		StartedAt:      fromMillis(stmt.ColumnInt64(5)),
		LastActivityAt: fromMillis(stmt.ColumnInt64(6)),
		AutoCreated:    stmt.ColumnInt64(8) != 0,
		ActivityCount:  stmt.ColumnInt64(10),
		MemoryCount:    stmt.ColumnInt64(11),
		TotalWorkSecs:  stmt.ColumnInt64(12),
	}
	if !stmt.ColumnIsNull(7) {
		ended := fromMillis(stmt.ColumnInt64(7))
		session.EndedAt = &ended
	}
	if raw := stmt.ColumnText(9); raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &session.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for %s: %w", session.ID, err)
		}
	}
	return session, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
