// Package autoswitch turns a stream of context signals into a bounded
// stream of session switches. Signals are debounced per path, scored
// against existing sessions, gated by a confidence threshold and a
// trailing-hour rate limit, and finally applied according to the
// configured policy.
package autoswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/lease"
	"github.com/foldline/worklog-mcp/internal/store"
)

// ErrUnknownPrompt is returned by ConfirmSwitch for a prompt id that
// is not pending, was already resolved, or was evicted.
var ErrUnknownPrompt = errors.New("unknown prompt id")

// pendingPrompt is a held evaluation awaiting ConfirmSwitch. seq
// orders prompts for oldest-first eviction.
type pendingPrompt struct {
	eval *Evaluation
	seq  int64
}

// Options wires the engine's collaborators. Zero-valued fields fall
// back to their defaults.
type Options struct {
	Config      Config
	Scoring     ScoringPolicy
	Observer    Observer
	Clock       clock.Clock
	Logger      *slog.Logger
	NewPromptID func() string
}

// Engine is the switch decision engine. One instance runs per process,
// fed by the filesystem watcher and the context_signal tool.
//
// Evaluation runs outside the engine mutex except for brief state
// reads and rate-window updates; the lease manager does its own
// serialization.
type Engine struct {
	mu sync.Mutex

	cfg         Config
	scoring     ScoringPolicy
	sessions    store.SessionStore
	leases      *lease.Manager
	observer    Observer
	clk         clock.Clock
	logger      *slog.Logger
	newPromptID func() string

	pending       map[string]ContextSignal
	debounceTimer *clock.Timer
	rate          *rateWindow
	prompts       map[string]*pendingPrompt
	promptSeq     int64

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  bool
}

// New creates an engine over the given store and lease manager.
func New(sessions store.SessionStore, leases *lease.Manager, opts Options) (*Engine, error) {
	cfg := opts.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("autoswitch: %w", err)
	}

	scoring := opts.Scoring
	if scoring == (ScoringPolicy{}) {
		scoring = DefaultScoringPolicy()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	newPromptID := opts.NewPromptID
	if newPromptID == nil {
		newPromptID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		scoring:     scoring,
		sessions:    sessions,
		leases:      leases,
		observer:    observer,
		clk:         clk,
		logger:      logger,
		newPromptID: newPromptID,
		pending:     make(map[string]ContextSignal),
		prompts:     make(map[string]*pendingPrompt),
		rate:        newRateWindow(switchRateWindow),
		baseCtx:     ctx,
		cancel:      cancel,
	}, nil
}

// OnSignal feeds one context signal into the engine. Gate checks run
// synchronously; evaluation is deferred until the debounce quiet
// period elapses, and only the last signal per path in a burst is
// evaluated. Outcomes are delivered through the Observer.
func (e *Engine) OnSignal(ctx context.Context, sig ContextSignal) {
	if sig.Path == "" {
		e.observer.Warning("context signal dropped: empty path")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = e.clk.Now()
	}
	cfg := e.cfg
	e.mu.Unlock()

	if cfg.Policy == PolicyDisabled {
		e.observer.Info("auto-switch disabled, signal ignored: " + sig.Path)
		return
	}
	for _, prefix := range cfg.ExcludedPathPrefixes {
		if strings.HasPrefix(sig.Path, prefix) {
			e.observer.Info(fmt.Sprintf("path %s excluded by prefix %s", sig.Path, prefix))
			return
		}
	}

	e.observer.PathChanged(sig)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.pending[sig.Path] = sig
	if e.debounceTimer == nil {
		e.debounceTimer = e.clk.AfterFunc(e.cfg.DebounceDelay, e.debounceFired)
	} else {
		e.debounceTimer.Reset(e.cfg.DebounceDelay)
	}
	e.mu.Unlock()
}

// debounceFired drains the signals that settled through the quiet
// period and evaluates them, one per path, in stable order.
func (e *Engine) debounceFired() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = make(map[string]ContextSignal)
	e.debounceTimer = nil
	ctx := e.baseCtx
	e.mu.Unlock()

	paths := make([]string, 0, len(batch))
	for path := range batch {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		e.evaluateSignal(ctx, batch[path])
	}
}

// evaluateSignal scores one settled signal and applies threshold, rate
// limit, and policy.
func (e *Engine) evaluateSignal(ctx context.Context, sig ContextSignal) {
	e.mu.Lock()
	cfg := e.cfg
	scoring := e.scoring
	e.mu.Unlock()

	now := e.clk.Now()

	candidates, err := e.sessions.FindSessions(ctx, store.SessionFilter{
		Statuses: []store.SessionStatus{store.StatusActive, store.StatusPaused},
	})
	if err != nil {
		// Store trouble never crashes the signal loop; the signal just
		// does nothing.
		e.logger.WarnContext(ctx, "store error during evaluation", "path", sig.Path, "error", err)
		e.observer.Warning("store error during evaluation: " + err.Error())
		return
	}

	eval := scoring.Score(sig, candidates, now)

	if eval.Decision != DecisionNoAction && eval.Confidence < cfg.ConfidenceThreshold {
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("confidence %.2f below threshold %.2f", eval.Confidence, cfg.ConfidenceThreshold))
		eval.Decision = DecisionNoAction
		e.logger.InfoContext(ctx, "switch downgraded below threshold",
			"path", sig.Path,
			"confidence", eval.Confidence,
			"target_session_id", eval.TargetSessionID)
		e.observer.SwitchSuggested(eval)
		return
	}

	// The rate check runs after scoring so the reason list stays
	// additive and auditable.
	if eval.Decision != DecisionNoAction {
		e.mu.Lock()
		limited := e.rate.count(now) >= cfg.MaxSwitchesPerHour
		e.mu.Unlock()
		if limited {
			eval.Reasons = append(eval.Reasons, "rate limit exceeded")
			eval.Decision = DecisionNoAction
			e.logger.WarnContext(ctx, "switch rate limit exceeded",
				"path", sig.Path,
				"max_per_hour", cfg.MaxSwitchesPerHour)
			e.observer.Warning(fmt.Sprintf("rate limit exceeded: %d switches in the trailing hour", cfg.MaxSwitchesPerHour))
			return
		}
	}

	switch cfg.Policy {
	case PolicyAuto:
		// Failures were reported through SwitchFailed; the loop moves
		// on either way.
		_ = e.execute(ctx, eval, true)
	case PolicyManual:
		e.mu.Lock()
		e.rate.record(now, eval.Decision)
		e.mu.Unlock()
		e.observer.SwitchSuggested(eval)
	case PolicyPrompt:
		e.holdForConfirmation(eval)
	}
}

// execute carries out a positive decision. On success it records the
// decision in the rate window when record is set; prompted decisions
// were already recorded at emission and pass false.
func (e *Engine) execute(ctx context.Context, eval *Evaluation, record bool) error {
	reason := strings.Join(eval.Reasons, "; ")

	switch eval.Decision {
	case DecisionReactivate:
		if _, err := e.leases.Activate(ctx, eval.TargetSessionID, reason); err != nil {
			e.logger.ErrorContext(ctx, "switch activation failed",
				"session_id", eval.TargetSessionID, "error", err)
			e.observer.SwitchFailed(eval, err)
			return fmt.Errorf("autoswitch: activating %s: %w", eval.TargetSessionID, err)
		}

	case DecisionCreateNew:
		session := &store.Session{
			ProjectName:  eval.Signal.ProjectName,
			ProjectPath:  eval.Signal.Path,
			RepositoryID: eval.Signal.RepositoryID,
			Status:       store.StatusPaused,
			AutoCreated:  true,
		}
		if session.ProjectName == "" {
			session.ProjectName = filepath.Base(eval.Signal.Path)
		}
		if err := e.sessions.CreateSession(ctx, session); err != nil {
			e.logger.ErrorContext(ctx, "session auto-create failed",
				"path", eval.Signal.Path, "error", err)
			e.observer.SwitchFailed(eval, err)
			return fmt.Errorf("autoswitch: creating session for %s: %w", eval.Signal.Path, err)
		}
		eval.TargetSessionID = session.ID
		if _, err := e.leases.Activate(ctx, session.ID, reason); err != nil {
			e.logger.ErrorContext(ctx, "switch activation failed",
				"session_id", session.ID, "error", err)
			e.observer.SwitchFailed(eval, err)
			return fmt.Errorf("autoswitch: activating %s: %w", session.ID, err)
		}

	default:
		return nil
	}

	if record {
		e.mu.Lock()
		e.rate.record(e.clk.Now(), eval.Decision)
		e.mu.Unlock()
	}
	e.observer.SwitchCompleted(eval)
	return nil
}

// holdForConfirmation parks an evaluation behind a prompt id and asks
// the user. The decision counts against the rate limit at emission,
// not again on confirm.
func (e *Engine) holdForConfirmation(eval *Evaluation) {
	promptID := e.newPromptID()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.promptSeq++
	e.prompts[promptID] = &pendingPrompt{eval: eval, seq: e.promptSeq}
	var evictedID string
	if len(e.prompts) > e.cfg.MaxPendingPrompts {
		evictedID = e.evictOldestPromptLocked()
	}
	e.rate.record(e.clk.Now(), eval.Decision)
	e.mu.Unlock()

	if evictedID != "" {
		e.logger.Warn("pending prompt evicted", "prompt_id", evictedID)
		e.observer.Warning("pending prompt evicted: " + evictedID)
	}
	e.observer.UserPromptRequired(promptID, eval)
}

func (e *Engine) evictOldestPromptLocked() string {
	oldestID := ""
	var oldestSeq int64
	for id, prompt := range e.prompts {
		if oldestID == "" || prompt.seq < oldestSeq {
			oldestID = id
			oldestSeq = prompt.seq
		}
	}
	if oldestID != "" {
		delete(e.prompts, oldestID)
	}
	return oldestID
}

// ConfirmSwitch resolves a held prompt-policy evaluation. Accepting
// executes the held decision; declining discards it. The prompt is
// consumed either way.
func (e *Engine) ConfirmSwitch(ctx context.Context, promptID string, accept bool) (*Evaluation, error) {
	e.mu.Lock()
	prompt, ok := e.prompts[promptID]
	delete(e.prompts, promptID)
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("autoswitch: confirm %s: %w", promptID, ErrUnknownPrompt)
	}

	eval := prompt.eval
	if !accept {
		declined := *eval
		declined.Reasons = append(append([]string(nil), eval.Reasons...), "declined by user")
		declined.Decision = DecisionNoAction
		e.logger.InfoContext(ctx, "switch declined",
			"prompt_id", promptID,
			"target_session_id", eval.TargetSessionID)
		return &declined, nil
	}

	if err := e.execute(ctx, eval, false); err != nil {
		return nil, err
	}
	return eval, nil
}

// ForceSwitch bypasses policy, debounce, threshold, and rate limiting.
// With preferSessionID set it reactivates that session; otherwise it
// reactivates an exact path match when one exists and creates a new
// session when none does.
func (e *Engine) ForceSwitch(ctx context.Context, sig ContextSignal, preferSessionID string) (*Evaluation, error) {
	if preferSessionID == "" && sig.Path == "" {
		return nil, fmt.Errorf("autoswitch: force switch needs a session id or a path")
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = e.clk.Now()
	}

	eval := &Evaluation{
		Decision:   DecisionCreateNew,
		Confidence: 1.0,
		Reasons:    []string{"force switch requested"},
		Signal:     sig,
	}

	if preferSessionID != "" {
		eval.Decision = DecisionReactivate
		eval.TargetSessionID = preferSessionID
	} else {
		candidates, err := e.sessions.FindSessions(ctx, store.SessionFilter{
			ProjectPath: sig.Path,
			Statuses:    []store.SessionStatus{store.StatusActive, store.StatusPaused},
			Limit:       1,
		})
		if err != nil {
			return nil, fmt.Errorf("autoswitch: force switch lookup: %w", err)
		}
		if len(candidates) > 0 {
			eval.Decision = DecisionReactivate
			eval.TargetSessionID = candidates[0].ID
		}
	}

	if err := e.execute(ctx, eval, true); err != nil {
		return nil, err
	}
	return eval, nil
}

// UpdateConfig merges a partial update into the engine config. The
// merged config is validated before it takes effect; on success the
// ConfigUpdated event carries the new snapshot.
func (e *Engine) UpdateConfig(update ConfigUpdate) (Config, error) {
	e.mu.Lock()
	merged := e.cfg.apply(update)
	if err := merged.validate(); err != nil {
		e.mu.Unlock()
		return Config{}, fmt.Errorf("autoswitch: config update: %w", err)
	}
	e.cfg = merged
	snapshot := merged.clone()
	e.mu.Unlock()

	e.logger.Info("auto-switch config updated", "policy", snapshot.Policy)
	e.observer.ConfigUpdated(snapshot)
	return snapshot, nil
}

// Snapshot returns the engine's effective config.
func (e *Engine) Snapshot() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// Close stops the debounce machinery and drops pending signals and
// prompts. In-flight evaluations are cancelled.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
	e.pending = make(map[string]ContextSignal)
	e.prompts = make(map[string]*pendingPrompt)
	e.mu.Unlock()

	e.cancel()
}
