// Package lease tracks which session holds the exclusive "active
// context" claim and for how long. At most one session is active at a
// time; activating one demotes the rest through a single store write.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/store"
)

// DefaultTimeout is how long a session stays exclusively active after
// its last recorded activity.
const DefaultTimeout = 30 * time.Minute

var (
	// ErrTerminalStatus is returned when activating a completed or
	// cancelled session. Reopen is the explicit override for that.
	ErrTerminalStatus = errors.New("session is in a terminal status")

	// ErrNotActive is returned by Release when no live lease is held.
	ErrNotActive = errors.New("no active session lease")
)

// Info is a point-in-time snapshot of the lease.
type Info struct {
	SessionID      string
	LastActivity   time.Time
	ExclusiveUntil time.Time
	Timeout        time.Duration
}

// Config holds the manager's tunables and collaborators.
type Config struct {
	// Timeout is the exclusivity window granted per activation or
	// extension. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Clock defaults to the system clock.
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// DefaultConfig returns the manager defaults used by the binary.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// Manager is the single source of truth for the one active session.
//
// All mutating operations serialize on one mutex: Activate performs a
// read-then-two-writes sequence (demote others, promote target) that
// must not interleave with a concurrent Activate or Extend for a
// different session. The two store writes are separate short round
// trips, not one transaction; see the package tests for the invariant
// this preserves.
type Manager struct {
	mu       sync.Mutex
	sessions store.SessionStore
	clk      clock.Clock
	logger   *slog.Logger

	timeout        time.Duration
	holderID       string
	lastActivity   time.Time
	exclusiveUntil time.Time
}

// NewManager creates a lease manager over the given session store.
// Zero-value config fields fall back to their defaults.
func NewManager(sessions store.SessionStore, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		sessions: sessions,
		clk:      cfg.Clock,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
	}
}

// Activate makes sessionID the exclusively active session. Any other
// active session is demoted to paused in a single store write before
// the target is promoted. Activating the session that already holds a
// live lease behaves exactly like Extend.
//
// Returns store.ErrSessionNotFound for unknown ids and
// ErrTerminalStatus for completed or cancelled sessions.
func (m *Manager) Activate(ctx context.Context, sessionID, reason string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateLocked(ctx, sessionID, reason)
}

func (m *Manager) activateLocked(ctx context.Context, sessionID, reason string) (*Info, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("lease: session id cannot be empty")
	}

	now := m.clk.Now()
	if m.holderID == sessionID && now.Before(m.exclusiveUntil) {
		return m.extendLocked(ctx, sessionID)
	}

	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lease: activate %s: %w", sessionID, err)
	}
	if !store.ValidTransition(session.Status, store.StatusActive) {
		return nil, fmt.Errorf("lease: activate %s (%s): %w", sessionID, session.Status, ErrTerminalStatus)
	}

	// From here on the store is being mutated. A partial failure
	// leaves the lease unheld rather than pointing at a session whose
	// store row no longer matches.
	demoted, err := m.sessions.PauseActiveExcept(ctx, sessionID, now)
	if err != nil {
		m.clearLocked()
		return nil, fmt.Errorf("lease: demoting active sessions: %w", err)
	}
	if session.Status != store.StatusActive {
		if err := m.sessions.UpdateSessionStatus(ctx, sessionID, store.StatusActive, now); err != nil {
			m.clearLocked()
			return nil, fmt.Errorf("lease: promoting %s: %w", sessionID, err)
		}
	}
	if err := m.sessions.TouchSession(ctx, sessionID, now); err != nil {
		m.clearLocked()
		return nil, fmt.Errorf("lease: touching %s: %w", sessionID, err)
	}

	m.holderID = sessionID
	m.lastActivity = now
	m.exclusiveUntil = now.Add(m.timeout)

	m.logger.InfoContext(ctx, "session activated",
		"session_id", sessionID,
		"reason", reason,
		"demoted", demoted,
		"exclusive_until", m.exclusiveUntil)

	return m.infoLocked(), nil
}

// Extend refreshes the current holder's lease and counts the activity.
// Extending a session that does not hold a live lease is an implicit
// switch and delegates to Activate; the wrong session is never
// silently extended.
func (m *Manager) Extend(ctx context.Context, sessionID, reason string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holderID != sessionID || !m.clk.Now().Before(m.exclusiveUntil) {
		return m.activateLocked(ctx, sessionID, reason)
	}
	return m.extendLocked(ctx, sessionID)
}

func (m *Manager) extendLocked(ctx context.Context, sessionID string) (*Info, error) {
	now := m.clk.Now()
	if err := m.sessions.TouchSession(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("lease: touching %s: %w", sessionID, err)
	}
	if err := m.sessions.IncrementCounters(ctx, sessionID, store.CounterDeltas{Activity: 1}); err != nil {
		return nil, fmt.Errorf("lease: counting activity for %s: %w", sessionID, err)
	}

	m.lastActivity = now
	// Never shrink the window, even if SetTimeout lowered the timeout
	// since the last grant.
	if until := now.Add(m.timeout); until.After(m.exclusiveUntil) {
		m.exclusiveUntil = until
	}
	return m.infoLocked(), nil
}

// IsExclusive reports whether a session currently holds a live lease.
// Callers use it to decide whether new memory items resolve to the
// active session or stay orphaned.
func (m *Manager) IsExclusive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holderID != "" && m.clk.Now().Before(m.exclusiveUntil)
}

// Current returns a snapshot of the lease, or nil once it has expired.
// Expiry is lazy: no background sweep is required for correctness.
func (m *Manager) Current() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holderID == "" || !m.clk.Now().Before(m.exclusiveUntil) {
		return nil
	}
	return m.infoLocked()
}

// Release expires the lease immediately. The session's store row is
// left untouched; only the in-memory claim goes away. Returns
// ErrNotActive when no live lease was held.
func (m *Manager) Release(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holderID == "" || !m.clk.Now().Before(m.exclusiveUntil) {
		return ErrNotActive
	}
	m.logger.Info("lease released", "session_id", m.holderID, "reason", reason)
	m.clearLocked()
	return nil
}

// SetTimeout changes the exclusivity window applied to future Activate
// and Extend grants. The currently computed expiry is unaffected.
func (m *Manager) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("lease: timeout must be positive, got %v", d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
	return nil
}

// Reopen moves a completed or cancelled session back to paused, then
// activates it. This is the explicit reactivation override; the
// auto-switch path never calls it.
func (m *Manager) Reopen(ctx context.Context, sessionID, reason string) (*Info, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("lease: session id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lease: reopen %s: %w", sessionID, err)
	}
	if session.Status.Terminal() {
		if err := m.sessions.UpdateSessionStatus(ctx, sessionID, store.StatusPaused, m.clk.Now()); err != nil {
			return nil, fmt.Errorf("lease: reopening %s: %w", sessionID, err)
		}
		m.logger.InfoContext(ctx, "session reopened",
			"session_id", sessionID,
			"previous_status", session.Status,
			"reason", reason)
	}
	return m.activateLocked(ctx, sessionID, reason)
}

// TakeExpired clears and returns the holder of a lease that expired
// without an explicit Release. It reports false while the lease is
// live or when no holder is recorded. The abandonment sweep uses it to
// claim exactly one termination per expired lease.
func (m *Manager) TakeExpired() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holderID == "" || m.clk.Now().Before(m.exclusiveUntil) {
		return "", false
	}
	holder := m.holderID
	m.clearLocked()
	return holder, true
}

func (m *Manager) clearLocked() {
	m.holderID = ""
	m.lastActivity = time.Time{}
	m.exclusiveUntil = time.Time{}
}

func (m *Manager) infoLocked() *Info {
	return &Info{
		SessionID:      m.holderID,
		LastActivity:   m.lastActivity,
		ExclusiveUntil: m.exclusiveUntil,
		Timeout:        m.timeout,
	}
}
