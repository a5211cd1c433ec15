package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "switch.debounce_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidStorageDrivers returns the list of valid storage driver values
func ValidStorageDrivers() []string {
	return []string{"sqlite", "memory"}
}

// ValidSwitchPolicies returns the list of valid switch policy values
func ValidSwitchPolicies() []string {
	return []string{"auto", "manual", "prompt", "disabled"}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

func contains(valid []string, value string) bool {
	for _, v := range valid {
		if v == value {
			return true
		}
	}
	return false
}

// Validate checks the Config for invalid values and returns all
// validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateLease()...)
	errors = append(errors, c.validateSwitch()...)
	errors = append(errors, c.validateTerminate()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateStorage() []ValidationError {
	var errors []ValidationError

	if !contains(ValidStorageDrivers(), c.Storage.Driver) {
		errors = append(errors, ValidationError{
			Field:   "storage.driver",
			Value:   c.Storage.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStorageDrivers(), ", ")),
		})
	}
	if c.Storage.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "storage.pool_size",
			Value:   c.Storage.PoolSize,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLease() []ValidationError {
	var errors []ValidationError

	if c.Lease.TimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "lease.timeout_minutes",
			Value:   c.Lease.TimeoutMinutes,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateSwitch() []ValidationError {
	var errors []ValidationError

	if !contains(ValidSwitchPolicies(), c.Switch.Policy) {
		errors = append(errors, ValidationError{
			Field:   "switch.policy",
			Value:   c.Switch.Policy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSwitchPolicies(), ", ")),
		})
	}
	if c.Switch.ConfidenceThreshold < 0 || c.Switch.ConfidenceThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "switch.confidence_threshold",
			Value:   c.Switch.ConfidenceThreshold,
			Message: "must be between 0 and 1",
		})
	}
	if c.Switch.MaxSwitchesPerHour < 1 {
		errors = append(errors, ValidationError{
			Field:   "switch.max_switches_per_hour",
			Value:   c.Switch.MaxSwitchesPerHour,
			Message: "must be at least 1",
		})
	}
	if c.Switch.DebounceMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "switch.debounce_ms",
			Value:   c.Switch.DebounceMs,
			Message: "must be at least 1",
		})
	}
	if c.Switch.MaxPendingPrompts < 1 {
		errors = append(errors, ValidationError{
			Field:   "switch.max_pending_prompts",
			Value:   c.Switch.MaxPendingPrompts,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateTerminate() []ValidationError {
	var errors []ValidationError

	if c.Terminate.CleanupTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "terminate.cleanup_timeout_seconds",
			Value:   c.Terminate.CleanupTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Terminate.MaxBackupsPerSession < 0 {
		errors = append(errors, ValidationError{
			Field:   "terminate.max_backups_per_session",
			Value:   c.Terminate.MaxBackupsPerSession,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.DebounceMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
