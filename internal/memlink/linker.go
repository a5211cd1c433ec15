// Package memlink maintains the session back-reference on memory items
// and computes per-session memory statistics. Batch operations are
// per-item: partial success is the expected shape, reported through
// Result rather than raised.
package memlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/store"
)

// ErrTargetCancelled is returned when a link or migration targets a
// cancelled session. Completed sessions stay linkable; their history
// is still being annotated.
var ErrTargetCancelled = errors.New("target session is cancelled")

// recentWindow is how far back Stats counts an item as recent.
const recentWindow = 24 * time.Hour

// Result carries the per-item outcomes of a batch operation.
// LinkedCount counts the items the operation succeeded on, whether
// they were linked, unlinked, or migrated. Errors and Warnings follow
// the input order, each entry prefixed with the memory id it concerns.
type Result struct {
	LinkedCount int
	FailedCount int
	Errors      []string
	Warnings    []string
}

func (r *Result) fail(msg string) {
	r.FailedCount++
	r.Errors = append(r.Errors, msg)
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// LinkOptions controls Link.
type LinkOptions struct {
	// ForceRelink allows stealing an item already linked to another
	// session. The steal is recorded as a warning, never silent.
	ForceRelink bool

	// Reason is carried into the operation log.
	Reason string
}

// UnlinkOptions controls Unlink.
type UnlinkOptions struct {
	// Soft clears the session reference and keeps the item. Without it
	// the item is deleted outright.
	Soft bool
}

// MigrateOptions controls Migrate.
type MigrateOptions struct {
	// ValidateTarget aborts the migration before any write when the
	// target session is cancelled.
	ValidateTarget bool
}

// SessionMemoryStats aggregates a session's linked memory items.
type SessionMemoryStats struct {
	TotalCount        int
	ByImportance      map[string]int
	ByWorkType        map[store.WorkType]int
	RecentCount       int
	AverageImportance float64
	OldestCreatedAt   *time.Time
	NewestCreatedAt   *time.Time
}

type validationRule struct {
	name      string
	predicate func(*store.MemoryItem) bool
	message   string
}

// Linker maintains memory-to-session links with pluggable validation.
type Linker struct {
	mu       sync.RWMutex // guards rules
	sessions store.SessionStore
	memories store.MemoryStore
	clk      clock.Clock
	logger   *slog.Logger
	rules    []validationRule
}

// NewLinker creates a linker with the built-in non_empty_content rule
// installed.
func NewLinker(sessions store.SessionStore, memories store.MemoryStore, clk clock.Clock, logger *slog.Logger) *Linker {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Linker{
		sessions: sessions,
		memories: memories,
		clk:      clk,
		logger:   logger,
	}
	l.AddValidationRule("non_empty_content", func(item *store.MemoryItem) bool {
		return strings.TrimSpace(item.Content) != ""
	}, "content is empty")
	return l
}

// AddValidationRule registers a predicate every item must satisfy to
// be linked. Failing items are reported per item as
// "<name>: <message>". Re-registering a name replaces the rule, so the
// built-in non_empty_content rule can be overridden.
func (l *Linker) AddValidationRule(name string, predicate func(*store.MemoryItem) bool, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, rule := range l.rules {
		if rule.name == name {
			l.rules[i] = validationRule{name: name, predicate: predicate, message: message}
			return
		}
	}
	l.rules = append(l.rules, validationRule{name: name, predicate: predicate, message: message})
}

func (l *Linker) firstRuleFailure(item *store.MemoryItem) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rule := range l.rules {
		if !rule.predicate(item) {
			return fmt.Sprintf("%s: %s", rule.name, rule.message)
		}
	}
	return ""
}

// Link attaches each memory item to the session. Items are evaluated
// independently: a failure is recorded against the item and the batch
// moves on. Linking an item that already points at this session is a
// no-op counted as success.
func (l *Linker) Link(ctx context.Context, sessionID string, memoryIDs []string, opts LinkOptions) *Result {
	result := &Result{}

	target, err := l.sessions.GetSession(ctx, sessionID)
	if err != nil {
		for _, id := range memoryIDs {
			result.fail(fmt.Sprintf("%s: target session %s: %v", id, sessionID, err))
		}
		return result
	}

	for _, id := range memoryIDs {
		if l.linkOne(ctx, target, id, opts.ForceRelink, result) {
			result.LinkedCount++
		}
	}

	l.logger.InfoContext(ctx, "link batch finished",
		"session_id", sessionID,
		"linked", result.LinkedCount,
		"failed", result.FailedCount,
		"reason", opts.Reason)
	return result
}

func (l *Linker) linkOne(ctx context.Context, target *store.Session, memoryID string, force bool, result *Result) bool {
	if target.Status == store.StatusCancelled {
		result.fail(fmt.Sprintf("%s: session %s: %v", memoryID, target.ID, ErrTargetCancelled))
		return false
	}

	item, err := l.memories.GetMemory(ctx, memoryID)
	if err != nil {
		result.fail(fmt.Sprintf("%s: %v", memoryID, err))
		return false
	}

	if msg := l.firstRuleFailure(item); msg != "" {
		result.fail(fmt.Sprintf("%s: %s", memoryID, msg))
		return false
	}

	if item.SessionID == target.ID {
		return true
	}

	previous := item.SessionID
	if previous != "" && !force {
		result.fail(fmt.Sprintf("%s: already linked to session %s", memoryID, previous))
		return false
	}

	if err := l.memories.UpdateMemorySessionID(ctx, memoryID, target.ID); err != nil {
		result.fail(fmt.Sprintf("%s: %v", memoryID, err))
		return false
	}

	if previous != "" {
		result.warn(fmt.Sprintf("%s: relinked from session %s", memoryID, previous))
		if err := l.sessions.IncrementCounters(ctx, previous, store.CounterDeltas{Memory: -1}); err != nil {
			result.warn(fmt.Sprintf("%s: counters on session %s: %v", memoryID, previous, err))
		}
	}
	if err := l.sessions.IncrementCounters(ctx, target.ID, store.CounterDeltas{Memory: 1}); err != nil {
		result.warn(fmt.Sprintf("%s: counters on session %s: %v", memoryID, target.ID, err))
	}
	return true
}

// Unlink detaches each item from the session. Soft unlink orphans the
// item; without Soft the item is deleted outright. Items not linked to
// the given session are failed rather than touched.
func (l *Linker) Unlink(ctx context.Context, sessionID string, memoryIDs []string, opts UnlinkOptions) *Result {
	result := &Result{}
	for _, id := range memoryIDs {
		if l.unlinkOne(ctx, sessionID, id, opts.Soft, result) {
			result.LinkedCount++
		}
	}

	l.logger.InfoContext(ctx, "unlink batch finished",
		"session_id", sessionID,
		"unlinked", result.LinkedCount,
		"failed", result.FailedCount,
		"soft", opts.Soft)
	return result
}

func (l *Linker) unlinkOne(ctx context.Context, sessionID, memoryID string, soft bool, result *Result) bool {
	item, err := l.memories.GetMemory(ctx, memoryID)
	if err != nil {
		result.fail(fmt.Sprintf("%s: %v", memoryID, err))
		return false
	}
	if item.SessionID != sessionID {
		result.fail(fmt.Sprintf("%s: not linked to session %s", memoryID, sessionID))
		return false
	}

	if soft {
		err = l.memories.UpdateMemorySessionID(ctx, memoryID, "")
	} else {
		err = l.memories.DeleteMemory(ctx, memoryID)
	}
	if err != nil {
		result.fail(fmt.Sprintf("%s: %v", memoryID, err))
		return false
	}

	if err := l.sessions.IncrementCounters(ctx, sessionID, store.CounterDeltas{Memory: -1}); err != nil {
		result.warn(fmt.Sprintf("%s: counters on session %s: %v", memoryID, sessionID, err))
	}
	return true
}

// Migrate moves items from one session to another, composed per item
// as a soft unlink from the source followed by a link to the target.
// Returns ErrTargetCancelled before any write when ValidateTarget is
// set and the target is cancelled. An item that unlinks but fails the
// link phase stays orphaned and is reported, not rolled back.
func (l *Linker) Migrate(ctx context.Context, fromSessionID, toSessionID string, memoryIDs []string, opts MigrateOptions) (*Result, error) {
	target, err := l.sessions.GetSession(ctx, toSessionID)
	if err != nil {
		return nil, fmt.Errorf("memlink: migrate target %s: %w", toSessionID, err)
	}
	if opts.ValidateTarget && target.Status == store.StatusCancelled {
		return nil, fmt.Errorf("memlink: migrate target %s: %w", toSessionID, ErrTargetCancelled)
	}

	result := &Result{}
	for _, id := range memoryIDs {
		if !l.unlinkOne(ctx, fromSessionID, id, true, result) {
			continue
		}
		if !l.linkOne(ctx, target, id, false, result) {
			result.warn(fmt.Sprintf("%s: unlinked from %s but not linked to %s", id, fromSessionID, toSessionID))
			continue
		}
		result.LinkedCount++
	}

	l.logger.InfoContext(ctx, "migrate batch finished",
		"from_session_id", fromSessionID,
		"to_session_id", toSessionID,
		"migrated", result.LinkedCount,
		"failed", result.FailedCount)
	return result, nil
}

// importanceBucket maps a 0-100 score onto the fixed reporting
// buckets.
func importanceBucket(importance int) string {
	switch {
	case importance >= 90:
		return "critical"
	case importance >= 70:
		return "high"
	case importance >= 30:
		return "medium"
	case importance >= 10:
		return "low"
	default:
		return "minimal"
	}
}

// Stats aggregates the session's current linked set. The recent count
// covers the trailing 24 hours.
//
// Returns store.ErrSessionNotFound if the session id is unknown.
func (l *Linker) Stats(ctx context.Context, sessionID string) (*SessionMemoryStats, error) {
	if _, err := l.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("memlink: stats for %s: %w", sessionID, err)
	}
	items, err := l.memories.ListMemoriesBySession(ctx, sessionID, store.MemoryFilter{})
	if err != nil {
		return nil, fmt.Errorf("memlink: listing memories for %s: %w", sessionID, err)
	}

	stats := &SessionMemoryStats{
		ByImportance: make(map[string]int),
		ByWorkType:   make(map[store.WorkType]int),
	}
	if len(items) == 0 {
		return stats, nil
	}

	recentCutoff := l.clk.Now().Add(-recentWindow)
	importanceSum := 0
	for _, item := range items {
		stats.TotalCount++
		stats.ByImportance[importanceBucket(item.Importance)]++
		stats.ByWorkType[item.WorkType]++
		importanceSum += item.Importance
		if item.CreatedAt.After(recentCutoff) {
			stats.RecentCount++
		}
	}
	stats.AverageImportance = float64(importanceSum) / float64(len(items))

	// Items arrive ordered by created_at ascending.
	oldest := items[0].CreatedAt
	newest := items[len(items)-1].CreatedAt
	stats.OldestCreatedAt = &oldest
	stats.NewestCreatedAt = &newest
	return stats, nil
}
