package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.max_parallel")
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

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Upper bounds that keep a typo from producing an unusable configuration.
const (
	maxParallelLimit = 256
	maxRetriesLimit  = 100
	maxLogSizeMB     = 1000 // 1GB
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateScheduler validates the SchedulerConfig
func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError
	s := c.Scheduler

	if s.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_parallel",
			Value:   s.MaxParallel,
			Message: "must be at least 1",
		})
	} else if s.MaxParallel > maxParallelLimit {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_parallel",
			Value:   s.MaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxParallelLimit),
		})
	}

	if s.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_retries",
			Value:   s.MaxRetries,
			Message: "must be non-negative",
		})
	} else if s.MaxRetries > maxRetriesLimit {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_retries",
			Value:   s.MaxRetries,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRetriesLimit),
		})
	}

	if s.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.timeout",
			Value:   s.Timeout,
			Message: "must be non-negative (0 disables the deadline)",
		})
	}

	errors = append(errors, validateNonNegativeDuration("scheduler.base_backoff", s.BaseBackoff)...)
	errors = append(errors, validateNonNegativeDuration("scheduler.max_backoff", s.MaxBackoff)...)

	if s.BaseBackoff > 0 && s.MaxBackoff > 0 && s.BaseBackoff > s.MaxBackoff {
		errors = append(errors, ValidationError{
			Field:   "scheduler.base_backoff",
			Value:   s.BaseBackoff,
			Message: fmt.Sprintf("must not exceed scheduler.max_backoff (%s)", s.MaxBackoff),
		})
	}

	return errors
}

func validateNonNegativeDuration(field string, d time.Duration) []ValidationError {
	if d >= 0 {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   d,
		Message: "must be non-negative",
	}}
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError
	s := c.Store

	if strings.TrimSpace(s.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dir",
			Value:   s.Dir,
			Message: "must not be empty",
		})
	}

	if strings.TrimSpace(s.ProjectName) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.project_name",
			Value:   s.ProjectName,
			Message: "must not be empty",
		})
	}

	switch {
	case s.FileName == "":
		errors = append(errors, ValidationError{
			Field:   "store.file_name",
			Value:   s.FileName,
			Message: "must not be empty",
		})
	case filepath.Base(s.FileName) != s.FileName || s.FileName == "." || s.FileName == "..":
		errors = append(errors, ValidationError{
			Field:   "store.file_name",
			Value:   s.FileName,
			Message: "must be a file name, not a path",
		})
	case filepath.Ext(s.FileName) != ".json":
		errors = append(errors, ValidationError{
			Field:   "store.file_name",
			Value:   s.FileName,
			Message: "must have a .json extension",
		})
	}

	if s.StaleTempAge < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.stale_temp_age",
			Value:   s.StaleTempAge,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Zero disables rotation
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
