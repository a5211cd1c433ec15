// Package store defines the persistence contracts for sessions, memory
// items, and termination backups, plus the typed filters used to query
// them. Implementations live in store/sqlite (durable) and store/memory
// (ephemeral mode and tests).
package store

import (
	"sort"
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	// StatusActive indicates the session currently holds the working context
	StatusActive SessionStatus = "active"
	// StatusPaused indicates the session was demoted by another activation
	StatusPaused SessionStatus = "paused"
	// StatusCompleted indicates the session ended normally
	StatusCompleted SessionStatus = "completed"
	// StatusCancelled indicates the session was force-terminated or errored out
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidTransition reports whether the session state machine permits
// moving from one status to another. Activation from terminal states is
// excluded here; the explicit reopen path goes through Paused first.
func ValidTransition(from, to SessionStatus) bool {
	switch to {
	case StatusActive:
		return from == StatusActive || from == StatusPaused
	case StatusPaused:
		return from == StatusActive
	case StatusCompleted:
		return from == StatusActive || from == StatusPaused
	case StatusCancelled:
		return from == StatusActive || from == StatusPaused || from == StatusCompleted
	}
	return false
}

// WorkType classifies a memory item
type WorkType string

const (
	// WorkMemory is a plain recorded note
	WorkMemory WorkType = "memory"
	// WorkTodo is an actionable item that may still be pending
	WorkTodo WorkType = "todo"
)

// CompletionStatus tracks whether a todo item was finished
type CompletionStatus string

const (
	// CompletionDone indicates the item was completed
	CompletionDone CompletionStatus = "done"
	// CompletionPending indicates the item is still open
	CompletionPending CompletionStatus = "pending"
)

// Session is one bounded unit of working context
type Session struct {
	ID             string
	ProjectName    string
	ProjectPath    string
	RepositoryID   string // empty when the project has no known repository
	Status         SessionStatus
	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        *time.Time // nil until the session reaches a terminal status
	AutoCreated    bool
	Tags           []string // treated as a set; normalized on write
	ActivityCount  int64
	MemoryCount    int64
	TotalWorkSecs  int64
}

// MemoryItem is a recorded note or todo, optionally linked to a session
type MemoryItem struct {
	ID         string
	SessionID  string // empty = orphaned, pending linkage
	Content    string
	Importance int // 0-100
	WorkType   WorkType
	Completion CompletionStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Backup is a pre-termination snapshot of a session and its linked
// memory items
type Backup struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Payload   []byte // JSON snapshot
}

// SessionFilter selects sessions. Zero-valued fields impose no
// constraint. Results are always ordered by last activity, newest
// first.
type SessionFilter struct {
	ProjectPath  string
	ProjectName  string
	RepositoryID string
	Statuses     []SessionStatus
	AutoCreated  *bool
	Limit        int // 0 = no limit
	Offset       int
}

// MemoryFilter narrows a session's memory listing. Nil fields impose no
// constraint.
type MemoryFilter struct {
	WorkType      *WorkType
	Completion    *CompletionStatus
	MinImportance *int
}

// CounterDeltas adjusts a session's derived counters in one write.
type CounterDeltas struct {
	Activity    int64
	Memory      int64
	WorkSeconds int64
}

// NormalizeTags deduplicates and sorts a tag list so stored tags behave
// as a set regardless of input order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
