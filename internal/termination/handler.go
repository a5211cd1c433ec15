// Package termination brings sessions to terminal states without
// losing in-flight work. Pending todos become plain memories, a
// snapshot backup is taken, and the whole cleanup runs under a bounded
// deadline so a stuck store cannot hang the caller.
package termination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/lease"
	"github.com/foldline/worklog-mcp/internal/memlink"
	"github.com/foldline/worklog-mcp/internal/store"
)

// ErrAlreadyTerminated is returned when the session is already in a
// terminal status. Batch operations treat it as a skip, not a failure.
var ErrAlreadyTerminated = errors.New("session already terminated")

const (
	// DefaultForceCleanupTimeout bounds the finalize/backup/status
	// phase of a single termination.
	DefaultForceCleanupTimeout = 5 * time.Second

	// DefaultMaxBackupsPerSession is how many pre-termination backups
	// are kept per session.
	DefaultMaxBackupsPerSession = 10

	// DefaultMaxConcurrent bounds the batch termination worker pool.
	DefaultMaxConcurrent = 4
)

// finalizeAnnotation marks todos converted during termination.
const finalizeAnnotation = "[incomplete, auto-closed]"

// Reason describes why a session is being terminated and decides which
// terminal status it lands on.
type Reason string

const (
	ReasonNormal        Reason = "normal"
	ReasonUserRequested Reason = "user_requested"
	ReasonTimeout       Reason = "timeout"
	ReasonError         Reason = "error"
	ReasonForce         Reason = "force"
	ReasonShutdown      Reason = "shutdown"
)

// terminalStatus maps the reason onto a terminal session status.
func (r Reason) terminalStatus() store.SessionStatus {
	switch r {
	case ReasonError, ReasonForce, ReasonShutdown:
		return store.StatusCancelled
	default:
		return store.StatusCompleted
	}
}

// Options controls a single termination.
type Options struct {
	// AutoFinalizeIncompleteWork converts pending todos into plain
	// memories instead of leaving them dangling.
	AutoFinalizeIncompleteWork bool

	// Backup snapshots the session and its linked items before the
	// status write.
	Backup bool
}

// DefaultOptions returns the options the serve loop and the sweep use.
func DefaultOptions() Options {
	return Options{AutoFinalizeIncompleteWork: true, Backup: true}
}

// Report describes one finished termination attempt. Warnings carry
// advisory notes, Errors carry cleanup steps that failed; neither
// implies the termination itself failed, which only the error return
// of Terminate does.
type Report struct {
	SessionID       string
	Reason          Reason
	FinalStatus     store.SessionStatus
	Success         bool
	FinalizedTodos  int
	BackupID        string // empty when no backup was taken
	MemoryStats     *memlink.SessionMemoryStats
	Warnings        []string
	Errors          []string
	ExecutionTimeMS int64
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Report) fail(msg string) {
	r.Errors = append(r.Errors, msg)
}

// BatchOptions controls TerminateMultiple.
type BatchOptions struct {
	Parallel      bool
	MaxConcurrent int // 0 = DefaultMaxConcurrent
	Options       Options
}

// BatchResult aggregates a TerminateMultiple run. Skipped counts
// already-terminated sessions, which are a normal outcome, not a
// failure.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int
	Incomplete bool // the context was cancelled before every id was visited
	Reports    map[string]*Report
	Errors     map[string]string
}

// Config tunes the handler.
type Config struct {
	ForceCleanupTimeout  time.Duration
	MaxBackupsPerSession int
	Clock                clock.Clock
	Logger               *slog.Logger
}

// DefaultConfig returns the handler defaults.
func DefaultConfig() Config {
	return Config{
		ForceCleanupTimeout:  DefaultForceCleanupTimeout,
		MaxBackupsPerSession: DefaultMaxBackupsPerSession,
	}
}

// Handler terminates sessions.
type Handler struct {
	store   store.Store
	linker  *memlink.Linker
	leases  *lease.Manager
	clk     clock.Clock
	logger  *slog.Logger
	timeout time.Duration
	keep    int
}

// NewHandler creates a handler over the store, linker, and lease
// manager.
func NewHandler(st store.Store, linker *memlink.Linker, leases *lease.Manager, cfg Config) *Handler {
	if cfg.ForceCleanupTimeout <= 0 {
		cfg.ForceCleanupTimeout = DefaultForceCleanupTimeout
	}
	if cfg.MaxBackupsPerSession <= 0 {
		cfg.MaxBackupsPerSession = DefaultMaxBackupsPerSession
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		store:   st,
		linker:  linker,
		leases:  leases,
		clk:     cfg.Clock,
		logger:  cfg.Logger,
		timeout: cfg.ForceCleanupTimeout,
		keep:    cfg.MaxBackupsPerSession,
	}
}

// Terminate brings the session to the terminal status its reason maps
// to. Cleanup (todo finalization, backup, stats) runs under the
// handler's deadline; when the deadline cuts the work short the report
// carries a timeout warning and whatever was finished. Only a failed
// final status write makes the termination itself fail.
//
// Returns store.ErrSessionNotFound for unknown ids and
// ErrAlreadyTerminated when the session is already terminal.
func (h *Handler) Terminate(ctx context.Context, sessionID string, reason Reason, opts Options) (*Report, error) {
	started := h.clk.Now()

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("termination: %w", err)
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("termination: %s is %s: %w", sessionID, session.Status, ErrAlreadyTerminated)
	}

	report := &Report{
		SessionID:   sessionID,
		Reason:      reason,
		FinalStatus: reason.terminalStatus(),
	}

	// The deadline runs on the injected clock so abandoned-session
	// sweeps and tests see the same expiry behavior.
	cleanupCtx, cancel := context.WithCancel(ctx)
	timer := h.clk.AfterFunc(h.timeout, cancel)
	defer timer.Stop()
	defer cancel()

	if opts.AutoFinalizeIncompleteWork && cleanupCtx.Err() == nil {
		h.finalizeTodos(cleanupCtx, sessionID, report)
	}
	if opts.Backup && cleanupCtx.Err() == nil {
		h.backup(cleanupCtx, session, report)
	}
	if cleanupCtx.Err() == nil {
		if stats, err := h.linker.Stats(cleanupCtx, sessionID); err != nil {
			report.fail(fmt.Sprintf("memory stats: %v", err))
		} else {
			report.MemoryStats = stats
		}
	}
	if cleanupCtx.Err() != nil {
		report.warn("termination deadline exceeded")
	}

	now := h.clk.Now()
	if err := h.store.UpdateSessionStatus(cleanupCtx, sessionID, report.FinalStatus, now); err != nil {
		report.ExecutionTimeMS = h.clk.Now().Sub(started).Milliseconds()
		return report, fmt.Errorf("termination: final status write for %s: %w", sessionID, err)
	}
	report.Success = true

	if info := h.leases.Current(); info != nil && info.SessionID == sessionID {
		if err := h.leases.Release(string(reason)); err != nil && !errors.Is(err, lease.ErrNotActive) {
			report.fail(fmt.Sprintf("lease release: %v", err))
		}
	}

	report.ExecutionTimeMS = h.clk.Now().Sub(started).Milliseconds()

	h.logger.InfoContext(ctx, "session terminated",
		"session_id", sessionID,
		"reason", reason,
		"status", report.FinalStatus,
		"finalized_todos", report.FinalizedTodos,
		"backup_id", report.BackupID,
		"warnings", len(report.Warnings),
		"errors", len(report.Errors))
	return report, nil
}

// finalizeTodos converts the session's pending todos into plain
// memories. Per-item failures land in the report's error list; the
// conversion total is surfaced so the caller knows work was closed
// out on their behalf.
func (h *Handler) finalizeTodos(ctx context.Context, sessionID string, report *Report) {
	todoType := store.WorkTodo
	pending := store.CompletionPending
	items, err := h.store.ListMemoriesBySession(ctx, sessionID, store.MemoryFilter{
		WorkType:   &todoType,
		Completion: &pending,
	})
	if err != nil {
		report.fail(fmt.Sprintf("listing incomplete todos: %v", err))
		return
	}

	finalized := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := h.store.FinalizeTodo(ctx, item.ID, finalizeAnnotation); err != nil {
			report.fail(fmt.Sprintf("finalizing todo %s: %v", item.ID, err))
			continue
		}
		finalized++
	}
	report.FinalizedTodos = finalized
	if finalized > 0 {
		report.warn(fmt.Sprintf("Converted %d incomplete TODO items to memories", finalized))
	}
}

// backupSnapshot is the JSON payload stored with a pre-termination
// backup.
type backupSnapshot struct {
	Session  *store.Session      `json:"session"`
	Memories []*store.MemoryItem `json:"memories"`
	TakenAt  time.Time           `json:"taken_at"`
}

// backup snapshots the session and its linked items. Failures land in
// the report's error list; losing a backup must not block the
// termination itself.
func (h *Handler) backup(ctx context.Context, session *store.Session, report *Report) {
	items, err := h.store.ListMemoriesBySession(ctx, session.ID, store.MemoryFilter{})
	if err != nil {
		report.fail(fmt.Sprintf("backup: listing memories: %v", err))
		return
	}
	now := h.clk.Now()
	payload, err := json.Marshal(backupSnapshot{Session: session, Memories: items, TakenAt: now})
	if err != nil {
		report.fail(fmt.Sprintf("backup: encoding snapshot: %v", err))
		return
	}

	backup := &store.Backup{
		ID:        fmt.Sprintf("backup_%s_%d", session.ID, now.Unix()),
		SessionID: session.ID,
		CreatedAt: now,
		Payload:   payload,
	}
	if err := h.store.SaveBackup(ctx, backup); err != nil {
		report.fail(fmt.Sprintf("backup: %v", err))
		return
	}
	report.BackupID = backup.ID

	if _, err := h.store.PruneBackups(ctx, session.ID, h.keep); err != nil {
		report.fail(fmt.Sprintf("backup: pruning: %v", err))
	}
}

// ForceTerminate skips validation, finalization, and backups, and
// always lands on Cancelled. Unlike Terminate it accepts a Completed
// session, revoking its normal end.
func (h *Handler) ForceTerminate(ctx context.Context, sessionID string) (*Report, error) {
	started := h.clk.Now()

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("termination: %w", err)
	}
	if session.Status == store.StatusCancelled {
		return nil, fmt.Errorf("termination: %s is cancelled: %w", sessionID, ErrAlreadyTerminated)
	}

	report := &Report{
		SessionID:   sessionID,
		Reason:      ReasonForce,
		FinalStatus: store.StatusCancelled,
	}
	if err := h.store.UpdateSessionStatus(ctx, sessionID, store.StatusCancelled, h.clk.Now()); err != nil {
		report.ExecutionTimeMS = h.clk.Now().Sub(started).Milliseconds()
		return report, fmt.Errorf("termination: final status write for %s: %w", sessionID, err)
	}
	report.Success = true

	if info := h.leases.Current(); info != nil && info.SessionID == sessionID {
		if err := h.leases.Release(string(ReasonForce)); err != nil && !errors.Is(err, lease.ErrNotActive) {
			report.fail(fmt.Sprintf("lease release: %v", err))
		}
	}

	report.ExecutionTimeMS = h.clk.Now().Sub(started).Milliseconds()

	h.logger.InfoContext(ctx, "session force terminated", "session_id", sessionID)
	return report, nil
}

// TerminateMultiple fans Terminate out over the ids, sequentially or
// through a bounded worker pool. One session's failure never aborts
// the others; cancellation returns the partial results with Incomplete
// set.
func (h *Handler) TerminateMultiple(ctx context.Context, sessionIDs []string, reason Reason, opts BatchOptions) *BatchResult {
	result := &BatchResult{
		Total:   len(sessionIDs),
		Reports: make(map[string]*Report),
		Errors:  make(map[string]string),
	}

	var mu sync.Mutex
	record := func(id string, report *Report, err error) {
		mu.Lock()
		defer mu.Unlock()
		if report != nil {
			result.Reports[id] = report
		}
		switch {
		case err == nil:
			result.Successful++
		case errors.Is(err, ErrAlreadyTerminated):
			result.Skipped++
		default:
			result.Failed++
			result.Errors[id] = err.Error()
		}
	}

	if !opts.Parallel {
		for _, id := range sessionIDs {
			if ctx.Err() != nil {
				result.Incomplete = true
				break
			}
			report, err := h.Terminate(ctx, id, reason, opts.Options)
			record(id, report, err)
		}
		return result
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for _, id := range sessionIDs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			result.Incomplete = true
			mu.Unlock()
			wg.Wait()
			return result
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			report, err := h.Terminate(ctx, id, reason, opts.Options)
			record(id, report, err)
		}(id)
	}
	wg.Wait()
	return result
}

// SweepAbandoned claims an expired lease, if any, and terminates the
// abandoned holder with the timeout reason. Returns the swept session
// id and whether a termination happened.
func (h *Handler) SweepAbandoned(ctx context.Context) (string, bool) {
	sessionID, ok := h.leases.TakeExpired()
	if !ok {
		return "", false
	}

	h.logger.InfoContext(ctx, "sweeping abandoned session", "session_id", sessionID)
	if _, err := h.Terminate(ctx, sessionID, ReasonTimeout, DefaultOptions()); err != nil {
		if !errors.Is(err, ErrAlreadyTerminated) && !errors.Is(err, store.ErrSessionNotFound) {
			h.logger.ErrorContext(ctx, "sweep termination failed", "session_id", sessionID, "error", err)
		}
		return sessionID, false
	}
	return sessionID, true
}
