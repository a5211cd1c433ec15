package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/foldline/worklog-mcp/internal/store"
)

const memoryColumns = `id, session_id, content, importance, work_type,
	completion, created_at, updated_at`

// CreateMemory inserts a new memory item
func (s *Store) CreateMemory(ctx context.Context, item *store.MemoryItem) error {
	if item == nil {
		return fmt.Errorf("sqlite store: memory item cannot be nil")
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := s.clk.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: create memory: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO memory_items (
			id, session_id, content, importance, work_type, completion,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				item.ID, nullableText(item.SessionID), item.Content,
				item.Importance, string(item.WorkType), string(item.Completion),
				millis(item.CreatedAt), millis(item.UpdatedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: create memory %s: %w", item.ID, err)
	}
	return nil
}

// GetMemory retrieves a memory item by ID
func (s *Store) GetMemory(ctx context.Context, id string) (*store.MemoryItem, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get memory: %w", err)
	}
	defer s.pool.Put(conn)

	var item *store.MemoryItem
	err = sqlitex.Execute(conn,
		"SELECT "+memoryColumns+" FROM memory_items WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				item = scanMemory(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get memory %s: %w", id, err)
	}
	if item == nil {
		return nil, store.ErrMemoryNotFound
	}
	return item, nil
}

// UpdateMemorySessionID rewrites the session back-reference. An empty
// sessionID orphans the item.
func (s *Store) UpdateMemorySessionID(ctx context.Context, id, sessionID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: update memory session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE memory_items SET session_id = ?, updated_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{nullableText(sessionID), millis(s.clk.Now()), id},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: update memory %s session: %w", id, err)
	}
	if conn.Changes() == 0 {
		return store.ErrMemoryNotFound
	}
	return nil
}

// DeleteMemory removes the item outright
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: delete memory: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM memory_items WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("sqlite store: delete memory %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return store.ErrMemoryNotFound
	}
	return nil
}

// ListMemoriesBySession returns the session's items matching the
// filter, oldest first
func (s *Store) ListMemoriesBySession(ctx context.Context, sessionID string, filter store.MemoryFilter) ([]*store.MemoryItem, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list memories: %w", err)
	}
	defer s.pool.Put(conn)

	conditions := []string{"session_id = ?"}
	args := []any{sessionID}

	if filter.WorkType != nil {
		conditions = append(conditions, "work_type = ?")
		args = append(args, string(*filter.WorkType))
	}
	if filter.Completion != nil {
		conditions = append(conditions, "completion = ?")
		args = append(args, string(*filter.Completion))
	}
	if filter.MinImportance != nil {
		conditions = append(conditions, "importance >= ?")
		args = append(args, *filter.MinImportance)
	}

	query := "SELECT " + memoryColumns + " FROM memory_items WHERE " +
		strings.Join(conditions, " AND ") + " ORDER BY created_at ASC, id ASC"

	var items []*store.MemoryItem
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			items = append(items, scanMemory(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list memories for %s: %w", sessionID, err)
	}
	return items, nil
}

// FinalizeTodo converts a todo into a plain memory with an annotation
// appended to its content
func (s *Store) FinalizeTodo(ctx context.Context, id, annotation string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: finalize todo: %w", err)
	}
	defer s.pool.Put(conn)

	query := "UPDATE memory_items SET work_type = ?, updated_at = ? WHERE id = ? AND work_type = ?"
	args := []any{string(store.WorkMemory), millis(s.clk.Now()), id, string(store.WorkTodo)}
	if annotation != "" {
		query = `UPDATE memory_items SET
			work_type  = ?,
			content    = CASE WHEN content = '' THEN ? ELSE content || char(10) || ? END,
			updated_at = ?
		WHERE id = ? AND work_type = ?`
		args = []any{
			string(store.WorkMemory), annotation, annotation,
			millis(s.clk.Now()), id, string(store.WorkTodo),
		}
	}

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("sqlite store: finalize todo %s: %w", id, err)
	}
	if conn.Changes() > 0 {
		return nil
	}

	// Nothing changed: distinguish a missing row from a non-todo row.
	exists := false
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM memory_items WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: finalize todo %s: %w", id, err)
	}
	if !exists {
		return store.ErrMemoryNotFound
	}
	return fmt.Errorf("sqlite store: memory item %s is not a todo", id)
}

func scanMemory(stmt *sqlite.Stmt) *store.MemoryItem {
	// Columns: id(0), session_id(1), content(2), importance(3),
	// work_type(4), completion(5), created_at(6), updated_at(7)
	item := &store.MemoryItem{
		ID:         stmt.ColumnText(0),
		Content:    stmt.ColumnText(2),
		Importance: int(stmt.ColumnInt64(3)),
		WorkType:   store.WorkType(stmt.ColumnText(4)),
		Completion: store.CompletionStatus(stmt.ColumnText(5)),
		CreatedAt:  fromMillis(stmt.ColumnInt64(6)),
		UpdatedAt:  fromMillis(stmt.ColumnInt64(7)),
	}
	if !stmt.ColumnIsNull(1) {
		item.SessionID = stmt.ColumnText(1)
	}
	return item
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
