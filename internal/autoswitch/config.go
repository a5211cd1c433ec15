package autoswitch

import (
	"fmt"
	"time"
)

// Policy governs what the engine does with a positive switch decision.
type Policy string

const (
	// PolicyAuto executes switch decisions immediately.
	PolicyAuto Policy = "auto"
	// PolicyManual only emits suggestions; nothing is executed.
	PolicyManual Policy = "manual"
	// PolicyPrompt holds each decision until ConfirmSwitch resolves it.
	PolicyPrompt Policy = "prompt"
	// PolicyDisabled drops signals entirely.
	PolicyDisabled Policy = "disabled"
)

const (
	// DefaultConfidenceThreshold is the minimum confidence a decision
	// needs to survive evaluation.
	DefaultConfidenceThreshold = 0.7

	// DefaultMaxSwitchesPerHour bounds delivered switch decisions in
	// the trailing hour.
	DefaultMaxSwitchesPerHour = 10

	// DefaultDebounceDelay is the quiet period a burst of signals must
	// observe before the last one is evaluated.
	DefaultDebounceDelay = 2 * time.Second

	// DefaultMaxPendingPrompts caps held prompt-policy evaluations;
	// the oldest is evicted beyond this.
	DefaultMaxPendingPrompts = 16
)

// switchRateWindow is the trailing window for rate accounting.
const switchRateWindow = time.Hour

// Config is the engine's runtime-tunable policy. Zero-valued fields
// fall back to their defaults at construction.
type Config struct {
	Policy               Policy
	ConfidenceThreshold  float64
	MaxSwitchesPerHour   int
	DebounceDelay        time.Duration
	ExcludedPathPrefixes []string
	MaxPendingPrompts    int
}

// DefaultConfig returns the engine defaults used by the binary.
func DefaultConfig() Config {
	return Config{
		Policy:              PolicyAuto,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MaxSwitchesPerHour:  DefaultMaxSwitchesPerHour,
		DebounceDelay:       DefaultDebounceDelay,
		MaxPendingPrompts:   DefaultMaxPendingPrompts,
	}
}

// ConfigUpdate is a partial config change; nil fields are left as they
// are. Supplied at runtime via UpdateConfig, typically from the
// switch_config tool.
type ConfigUpdate struct {
	Policy               *Policy
	ConfidenceThreshold  *float64
	MaxSwitchesPerHour   *int
	DebounceDelay        *time.Duration
	ExcludedPathPrefixes *[]string
	MaxPendingPrompts    *int
}

func (c Config) validate() error {
	switch c.Policy {
	case PolicyAuto, PolicyManual, PolicyPrompt, PolicyDisabled:
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0, 1]", c.ConfidenceThreshold)
	}
	if c.MaxSwitchesPerHour < 1 {
		return fmt.Errorf("max switches per hour must be at least 1, got %d", c.MaxSwitchesPerHour)
	}
	if c.DebounceDelay <= 0 {
		return fmt.Errorf("debounce delay must be positive, got %v", c.DebounceDelay)
	}
	if c.MaxPendingPrompts < 1 {
		return fmt.Errorf("max pending prompts must be at least 1, got %d", c.MaxPendingPrompts)
	}
	return nil
}

// withDefaults fills zero-valued fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyAuto
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.MaxSwitchesPerHour == 0 {
		c.MaxSwitchesPerHour = DefaultMaxSwitchesPerHour
	}
	if c.DebounceDelay == 0 {
		c.DebounceDelay = DefaultDebounceDelay
	}
	if c.MaxPendingPrompts == 0 {
		c.MaxPendingPrompts = DefaultMaxPendingPrompts
	}
	return c
}

// clone returns a copy safe to hand out, with the prefix slice
// detached.
func (c Config) clone() Config {
	out := c
	if c.ExcludedPathPrefixes != nil {
		out.ExcludedPathPrefixes = append([]string(nil), c.ExcludedPathPrefixes...)
	}
	return out
}

// apply merges an update into the config, returning the merged copy.
func (c Config) apply(update ConfigUpdate) Config {
	out := c.clone()
	if update.Policy != nil {
		out.Policy = *update.Policy
	}
	if update.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = *update.ConfidenceThreshold
	}
	if update.MaxSwitchesPerHour != nil {
		out.MaxSwitchesPerHour = *update.MaxSwitchesPerHour
	}
	if update.DebounceDelay != nil {
		out.DebounceDelay = *update.DebounceDelay
	}
	if update.ExcludedPathPrefixes != nil {
		out.ExcludedPathPrefixes = append([]string(nil), (*update.ExcludedPathPrefixes)...)
	}
	if update.MaxPendingPrompts != nil {
		out.MaxPendingPrompts = *update.MaxPendingPrompts
	}
	return out
}
