package autoswitch

import (
	"log/slog"
	"strings"
)

// Observer receives the engine's events: one method per event kind so
// the contract stays statically checkable. Implementations must not
// block; they are called from the signal path and the debounce
// goroutine.
type Observer interface {
	PathChanged(sig ContextSignal)
	SwitchSuggested(eval *Evaluation)
	SwitchCompleted(eval *Evaluation)
	SwitchFailed(eval *Evaluation, err error)
	UserPromptRequired(promptID string, eval *Evaluation)
	ConfigUpdated(cfg Config)
	Warning(msg string)
	Info(msg string)
}

// NopObserver ignores every event. Embed it to implement only the
// methods a caller cares about.
type NopObserver struct{}

func (NopObserver) PathChanged(ContextSignal)              {}
func (NopObserver) SwitchSuggested(*Evaluation)            {}
func (NopObserver) SwitchCompleted(*Evaluation)            {}
func (NopObserver) SwitchFailed(*Evaluation, error)        {}
func (NopObserver) UserPromptRequired(string, *Evaluation) {}
func (NopObserver) ConfigUpdated(Config)                   {}
func (NopObserver) Warning(string)                         {}
func (NopObserver) Info(string)                            {}

// LogObserver writes every event to a slog logger; the binary installs
// one so engine activity shows up in the server log.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver over the given logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) PathChanged(sig ContextSignal) {
	o.logger.Debug("path changed",
		"path", sig.Path,
		"project_name", sig.ProjectName,
		"repository_id", sig.RepositoryID)
}

func (o *LogObserver) SwitchSuggested(eval *Evaluation) {
	o.logger.Info("switch suggested",
		"decision", eval.Decision,
		"confidence", eval.Confidence,
		"target_session_id", eval.TargetSessionID,
		"reasons", strings.Join(eval.Reasons, "; "))
}

func (o *LogObserver) SwitchCompleted(eval *Evaluation) {
	o.logger.Info("switch completed",
		"decision", eval.Decision,
		"confidence", eval.Confidence,
		"target_session_id", eval.TargetSessionID,
		"reasons", strings.Join(eval.Reasons, "; "))
}

func (o *LogObserver) SwitchFailed(eval *Evaluation, err error) {
	o.logger.Error("switch failed",
		"decision", eval.Decision,
		"target_session_id", eval.TargetSessionID,
		"error", err)
}

func (o *LogObserver) UserPromptRequired(promptID string, eval *Evaluation) {
	o.logger.Info("user prompt required",
		"prompt_id", promptID,
		"decision", eval.Decision,
		"confidence", eval.Confidence,
		"target_session_id", eval.TargetSessionID)
}

func (o *LogObserver) ConfigUpdated(cfg Config) {
	o.logger.Info("auto-switch config updated",
		"policy", cfg.Policy,
		"confidence_threshold", cfg.ConfidenceThreshold,
		"max_switches_per_hour", cfg.MaxSwitchesPerHour,
		"debounce_delay", cfg.DebounceDelay,
		"excluded_path_prefixes", strings.Join(cfg.ExcludedPathPrefixes, ","))
}

func (o *LogObserver) Warning(msg string) { o.logger.Warn(msg) }

func (o *LogObserver) Info(msg string) { o.logger.Info(msg) }

// MultiObserver fans each event out to its members in order.
type MultiObserver []Observer

func (m MultiObserver) PathChanged(sig ContextSignal) {
	for _, o := range m {
		o.PathChanged(sig)
	}
}

func (m MultiObserver) SwitchSuggested(eval *Evaluation) {
	for _, o := range m {
		o.SwitchSuggested(eval)
	}
}

func (m MultiObserver) SwitchCompleted(eval *Evaluation) {
	for _, o := range m {
		o.SwitchCompleted(eval)
	}
}

func (m MultiObserver) SwitchFailed(eval *Evaluation, err error) {
	for _, o := range m {
		o.SwitchFailed(eval, err)
	}
}

func (m MultiObserver) UserPromptRequired(promptID string, eval *Evaluation) {
	for _, o := range m {
		o.UserPromptRequired(promptID, eval)
	}
}

func (m MultiObserver) ConfigUpdated(cfg Config) {
	for _, o := range m {
		o.ConfigUpdated(cfg)
	}
}

func (m MultiObserver) Warning(msg string) {
	for _, o := range m {
		o.Warning(msg)
	}
}

func (m MultiObserver) Info(msg string) {
	for _, o := range m {
		o.Info(msg)
	}
}
