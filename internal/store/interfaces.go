package store

import (
	"context"
	"time"
)

// SessionStore persists session rows
type SessionStore interface {
	// CreateSession inserts a new session row
	// Fills ID with a fresh identifier when empty
	CreateSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by ID
	// Returns ErrSessionNotFound if the id is unknown
	GetSession(ctx context.Context, id string) (*Session, error)

	// FindSessions returns sessions matching the filter, ordered by
	// last_activity_at descending
	FindSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)

	// UpdateSessionStatus sets the status as of ts
	// Terminal statuses set ended_at = ts; non-terminal statuses clear it
	// Returns ErrSessionNotFound if the id is unknown
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, ts time.Time) error

	// PauseActiveExcept demotes every active session except keepID to
	// paused in a single write, stamping last_activity_at = ts on the
	// demoted rows, and returns how many rows changed
	// Used by lease activation to avoid a read-modify-write race
	PauseActiveExcept(ctx context.Context, keepID string, ts time.Time) (int, error)

	// TouchSession sets last_activity_at = ts
	// Returns ErrSessionNotFound if the id is unknown
	TouchSession(ctx context.Context, id string, ts time.Time) error

	// IncrementCounters applies the deltas to the session's derived
	// counters in one write
	// Returns ErrSessionNotFound if the id is unknown
	IncrementCounters(ctx context.Context, id string, deltas CounterDeltas) error
}

// MemoryStore persists memory items and their session back-references
type MemoryStore interface {
	// CreateMemory inserts a new memory item
	// Fills ID with a fresh identifier when empty
	CreateMemory(ctx context.Context, item *MemoryItem) error

	// GetMemory retrieves a memory item by ID
	// Returns ErrMemoryNotFound if the id is unknown
	GetMemory(ctx context.Context, id string) (*MemoryItem, error)

	// UpdateMemorySessionID rewrites the session back-reference
	// An empty sessionID orphans the item (soft unlink)
	// Returns ErrMemoryNotFound if the id is unknown
	UpdateMemorySessionID(ctx context.Context, id, sessionID string) error

	// DeleteMemory removes the item outright (hard unlink)
	// Returns ErrMemoryNotFound if the id is unknown
	DeleteMemory(ctx context.Context, id string) error

	// ListMemoriesBySession returns the session's linked items matching
	// the filter, ordered by created_at ascending
	ListMemoriesBySession(ctx context.Context, sessionID string, filter MemoryFilter) ([]*MemoryItem, error)

	// FinalizeTodo converts a todo into a plain memory, appending the
	// annotation to its content
	// Completion is left untouched; the work was not done
	// Returns ErrMemoryNotFound if the id is unknown
	FinalizeTodo(ctx context.Context, id, annotation string) error
}

// BackupStore persists pre-termination snapshots
type BackupStore interface {
	// SaveBackup inserts a backup record
	SaveBackup(ctx context.Context, backup *Backup) error

	// ListBackups returns a session's backups, newest first
	ListBackups(ctx context.Context, sessionID string) ([]*Backup, error)

	// PruneBackups deletes all but the newest keep backups for a
	// session, returning how many were removed
	PruneBackups(ctx context.Context, sessionID string, keep int) (int, error)
}

// Store is the full persistence surface the engine is wired with
type Store interface {
	SessionStore
	MemoryStore
	BackupStore
}
