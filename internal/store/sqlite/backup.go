package sqlite

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/foldline/worklog-mcp/internal/store"
)

// SaveBackup persists a snapshot payload for a session
func (s *Store) SaveBackup(ctx context.Context, backup *store.Backup) error {
	if backup == nil {
		return fmt.Errorf("sqlite store: backup cannot be nil")
	}
	if backup.ID == "" {
		return fmt.Errorf("sqlite store: backup ID cannot be empty")
	}
	if backup.CreatedAt.IsZero() {
		backup.CreatedAt = s.clk.Now()
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: save backup: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO session_backups (id, session_id, created_at, payload)
		VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				backup.ID, backup.SessionID, millis(backup.CreatedAt),
				backup.Payload,
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: save backup %s: %w", backup.ID, err)
	}
	return nil
}

// ListBackups returns a session's backups, newest first
func (s *Store) ListBackups(ctx context.Context, sessionID string) ([]*store.Backup, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list backups: %w", err)
	}
	defer s.pool.Put(conn)

	var backups []*store.Backup
	err = sqlitex.Execute(conn,
		`SELECT id, session_id, created_at, payload FROM session_backups
		WHERE session_id = ? ORDER BY created_at DESC, id DESC`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b := &store.Backup{
					ID:        stmt.ColumnText(0),
					SessionID: stmt.ColumnText(1),
					CreatedAt: fromMillis(stmt.ColumnInt64(2)),
				}
				if n := stmt.ColumnLen(3); n > 0 {
					b.Payload = make([]byte, n)
					stmt.ColumnBytes(3, b.Payload)
				}
				backups = append(backups, b)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list backups for %s: %w", sessionID, err)
	}
	return backups, nil
}

// PruneBackups deletes all but the newest keep backups for a session
// and reports how many rows were removed
func (s *Store) PruneBackups(ctx context.Context, sessionID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: prune backups: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM session_backups WHERE session_id = ? AND id NOT IN (
			SELECT id FROM session_backups WHERE session_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`,
		&sqlitex.ExecOptions{Args: []any{sessionID, sessionID, keep}})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: prune backups for %s: %w", sessionID, err)
	}
	return conn.Changes(), nil
}
