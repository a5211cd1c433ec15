package autoswitch

import "time"

// ContextSignal describes a detected change of working context. The
// watcher produces these from filesystem activity; the context_signal
// tool produces them from explicit caller input.
type ContextSignal struct {
	Path         string
	ProjectName  string
	RepositoryID string
	Timestamp    time.Time
}

// Decision is the outcome kind of a switch evaluation.
type Decision string

const (
	DecisionNoAction   Decision = "no_action"
	DecisionCreateNew  Decision = "create_new"
	DecisionReactivate Decision = "reactivate_existing"
)

// Evaluation is the engine's answer to one context signal. It is
// ephemeral: logged and handed to observers, never persisted.
type Evaluation struct {
	Decision   Decision
	Confidence float64

	// Reasons lists, in the order they were applied, why the decision
	// came out the way it did. Downgrades (threshold, rate limit)
	// append to the original scoring reasons rather than replacing
	// them.
	Reasons []string

	// TargetSessionID is the session a reactivation points at, or the
	// created session's id once a CreateNew decision has executed.
	TargetSessionID string

	// Signal is the signal this evaluation answers.
	Signal ContextSignal
}
