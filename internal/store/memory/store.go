// Package memory implements store.Store with in-process maps. It backs
// the ephemeral (no database file) mode and the engine test suites.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/store"
)

var (
	errSessionNil = errors.New("session cannot be nil")
	errMemoryNil  = errors.New("memory item cannot be nil")
	errBackupNil  = errors.New("backup cannot be nil")
	errEmptyID    = errors.New("id cannot be empty")
	errNotTodo    = errors.New("memory item is not a todo")
)

// Store is an in-memory store.Store implementation
type Store struct {
	mu       sync.RWMutex
	clk      clock.Clock
	sessions map[string]*store.Session
	items    map[string]*store.MemoryItem
	backups  map[string][]*store.Backup // per session, append order = chronological
}

// New creates an empty in-memory store. A nil clock falls back to the
// system clock.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System()
	}
	return &Store{
		clk:      clk,
		sessions: make(map[string]*store.Session),
		items:    make(map[string]*store.MemoryItem),
		backups:  make(map[string][]*store.Backup),
	}
}

// CreateSession inserts a new session row
func (s *Store) CreateSession(ctx context.Context, session *store.Session) error {
	if session == nil {
		return errSessionNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
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

	s.sessions[session.ID] = copySession(session)
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	if id == "" {
		return nil, errEmptyID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, store.ErrSessionNotFound
	}
	return copySession(session), nil
}

// FindSessions returns sessions matching the filter, newest activity first
func (s *Store) FindSessions(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*store.Session, 0)
	for _, session := range s.sessions {
		if matchesSession(session, filter) {
			matched = append(matched, copySession(session))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastActivityAt.Equal(matched[j].LastActivityAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].LastActivityAt.After(matched[j].LastActivityAt)
	})

	return paginate(matched, filter.Offset, filter.Limit), nil
}

// UpdateSessionStatus sets the status as of ts. Terminal statuses set
// ended_at; non-terminal statuses clear it.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status store.SessionStatus, ts time.Time) error {
	if id == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return store.ErrSessionNotFound
	}

	session.Status = status
	if status.Terminal() {
		ended := ts
		session.EndedAt = &ended
	} else {
		session.EndedAt = nil
	}
	return nil
}

// PauseActiveExcept demotes every active session except keepID
func (s *Store) PauseActiveExcept(ctx context.Context, keepID string, ts time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	demoted := 0
	for _, session := range s.sessions {
		if session.Status == store.StatusActive && session.ID != keepID {
			session.Status = store.StatusPaused
			session.LastActivityAt = ts
			demoted++
		}
	}
	return demoted, nil
}

// TouchSession sets last_activity_at = ts
func (s *Store) TouchSession(ctx context.Context, id string, ts time.Time) error {
	if id == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return store.ErrSessionNotFound
	}
	session.LastActivityAt = ts
	return nil
}

// IncrementCounters applies the deltas. Counters never go negative.
func (s *Store) IncrementCounters(ctx context.Context, id string, deltas store.CounterDeltas) error {
	if id == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return store.ErrSessionNotFound
	}

	session.ActivityCount = clampNonNegative(session.ActivityCount + deltas.Activity)
	session.MemoryCount = clampNonNegative(session.MemoryCount + deltas.Memory)
	session.TotalWorkSecs = clampNonNegative(session.TotalWorkSecs + deltas.WorkSeconds)
	return nil
}

// CreateMemory inserts a new memory item
func (s *Store) CreateMemory(ctx context.Context, item *store.MemoryItem) error {
	if item == nil {
		return errMemoryNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("memory item %s already exists", item.ID)
	}

	now := s.clk.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	s.items[item.ID] = copyMemory(item)
	return nil
}

// GetMemory retrieves a memory item by ID
func (s *Store) GetMemory(ctx context.Context, id string) (*store.MemoryItem, error) {
	if id == "" {
		return nil, errEmptyID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrMemoryNotFound
	}
	return copyMemory(item), nil
}

// UpdateMemorySessionID rewrites the session back-reference
func (s *Store) UpdateMemorySessionID(ctx context.Context, id, sessionID string) error {
	if id == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return store.ErrMemoryNotFound
	}
	item.SessionID = sessionID
	item.UpdatedAt = s.clk.Now()
	return nil
}

// DeleteMemory removes the item outright
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return store.ErrMemoryNotFound
	}
	delete(s.items, id)
	return nil
}

// ListMemoriesBySession returns the session's items matching the
// filter, oldest first
func (s *Store) ListMemoriesBySession(ctx context.Context, sessionID string, filter store.MemoryFilter) ([]*store.MemoryItem, error) {
	if sessionID == "" {
		return nil, errEmptyID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*store.MemoryItem, 0)
	for _, item := range s.items {
		if item.SessionID != sessionID {
			continue
		}
		if matchesMemory(item, filter) {
			matched = append(matched, copyMemory(item))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// FinalizeTodo converts a todo into a plain memory with an annotation
func (s *Store) FinalizeTodo(ctx context.Context, id, annotation string) error {
	if id == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return store.ErrMemoryNotFound
	}
	if item.WorkType != store.WorkTodo {
		return errNotTodo
	}

	item.WorkType = store.WorkMemory
	if annotation != "" {
		if item.Content == "" {
			item.Content = annotation
		} else {
			item.Content = item.Content + "\n" + annotation
		}
	}
	item.UpdatedAt = s.clk.Now()
	return nil
}

// SaveBackup inserts a backup record
func (s *Store) SaveBackup(ctx context.Context, backup *store.Backup) error {
	if backup == nil {
		return errBackupNil
	}
	if backup.ID == "" || backup.SessionID == "" {
		return errEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.backups[backup.SessionID] = append(s.backups[backup.SessionID], copyBackup(backup))
	return nil
}

// ListBackups returns a session's backups, newest first
func (s *Store) ListBackups(ctx context.Context, sessionID string) ([]*store.Backup, error) {
	if sessionID == "" {
		return nil, errEmptyID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.backups[sessionID]
	out := make([]*store.Backup, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, copyBackup(stored[i]))
	}
	return out, nil
}

// PruneBackups deletes all but the newest keep backups
func (s *Store) PruneBackups(ctx context.Context, sessionID string, keep int) (int, error) {
	if sessionID == "" {
		return 0, errEmptyID
	}
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.backups[sessionID]
	if len(stored) <= keep {
		return 0, nil
	}
	removed := len(stored) - keep
	s.backups[sessionID] = append([]*store.Backup(nil), stored[removed:]...)
	return removed, nil
}

func matchesSession(session *store.Session, filter store.SessionFilter) bool {
	if filter.ProjectPath != "" && session.ProjectPath != filter.ProjectPath {
		return false
	}
	if filter.ProjectName != "" && session.ProjectName != filter.ProjectName {
		return false
	}
	if filter.RepositoryID != "" && session.RepositoryID != filter.RepositoryID {
		return false
	}
	if filter.AutoCreated != nil && session.AutoCreated != *filter.AutoCreated {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if session.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesMemory(item *store.MemoryItem, filter store.MemoryFilter) bool {
	if filter.WorkType != nil && item.WorkType != *filter.WorkType {
		return false
	}
	if filter.Completion != nil && item.Completion != *filter.Completion {
		return false
	}
	if filter.MinImportance != nil && item.Importance < *filter.MinImportance {
		return false
	}
	return true
}

func paginate(sessions []*store.Session, offset, limit int) []*store.Session {
	if offset > 0 {
		if offset >= len(sessions) {
			return []*store.Session{}
		}
		sessions = sessions[offset:]
	}
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Copies prevent callers from mutating stored rows through returned
// pointers.

func copySession(session *store.Session) *store.Session {
	out := *session
	if session.Tags != nil {
		out.Tags = append([]string(nil), session.Tags...)
	}
	if session.EndedAt != nil {
		ended := *session.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

func copyMemory(item *store.MemoryItem) *store.MemoryItem {
	out := *item
	return &out
}

func copyBackup(backup *store.Backup) *store.Backup {
	out := *backup
	if backup.Payload != nil {
		out.Payload = append([]byte(nil), backup.Payload...)
	}
	return &out
}
