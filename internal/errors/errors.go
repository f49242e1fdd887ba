// Package errors provides centralized error definitions and error handling utilities
// for autodev. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of the two core subsystems:
//   - GraphError: the task graph is invalid (cycle, unknown dependency)
//   - UnitError: a work unit's function returned an error
//   - SkippedError: a work unit was not run because a dependency did not complete
//   - PersistenceError: saving the context store failed
//   - CorruptedStateError: a persisted context store could not be parsed
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or configuration
//   - TimeoutError: operation exceeded its deadline
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewGraphError("cycle detected", errors.ErrDependencyCycle).WithCycle(path)
//	err := errors.NewTimeoutError("unit build", 30*time.Second)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrInvalidGraph) { ... }
//
//	var unitErr *errors.UnitError
//	if errors.As(err, &unitErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//
// # Retryable vs Fatal
//
// Work functions signal a non-retryable failure by wrapping it with [Fatal].
// The scheduler consults [IsFatal] before scheduling another attempt, so retry
// decisions come from type inspection rather than string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error kinds reported by [Kind].
const (
	KindInvalidGraph       = "InvalidGraph"
	KindTimeout            = "Timeout"
	KindUnitFailure        = "UnitFailure"
	KindSkipped            = "SkippedDueToDependency"
	KindPersistenceFailure = "PersistenceFailure"
	KindCorruptedState     = "CorruptedState"
	KindValidation         = "Validation"
	KindNotFound           = "NotFound"
	KindCanceled           = "Canceled"
	KindUnknown            = "Unknown"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Graph-related sentinel errors
var (
	// ErrInvalidGraph indicates that the task graph cannot be executed.
	ErrInvalidGraph = New("invalid task graph")
	// ErrDependencyCycle indicates a circular dependency between units.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrUnknownDependency indicates a unit depends on an id that was never registered.
	ErrUnknownDependency = New("unknown dependency")
	// ErrGraphInconsistent indicates level decomposition could not place every unit.
	ErrGraphInconsistent = New("graph inconsistent")
	// ErrDuplicateUnit indicates a unit id was registered twice.
	ErrDuplicateUnit = New("duplicate unit id")
)

// Unit-related sentinel errors
var (
	// ErrUnitFailed indicates that a unit's function returned an error.
	ErrUnitFailed = New("unit failed")
	// ErrSkipped indicates a unit was skipped because a dependency did not complete.
	ErrSkipped = New("skipped due to dependency")
)

// Store-related sentinel errors
var (
	// ErrPersistence indicates that writing the context store to disk failed.
	ErrPersistence = New("persistence failure")
	// ErrCorruptedState indicates that persisted state could not be parsed.
	ErrCorruptedState = New("corrupted state")
	// ErrLockFailed indicates that the cross-process file lock could not be acquired.
	ErrLockFailed = New("file lock failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNotFound indicates that a resource does not exist.
	ErrNotFound = New("not found")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// DomainError is the base interface for all autodev errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type DomainError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// Kind returns the taxonomy name of the error.
	Kind() string
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
	kind      string
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// Kind returns the taxonomy name of the error.
func (e *baseError) Kind() string {
	return e.kind
}

// format renders "<prefix> [k=v, ...]: message: cause".
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// GraphError reports a task graph that cannot be executed. It is always
// fatal: a run that returns a GraphError executed no units.
//
// Example:
//
//	err := errors.NewGraphError("cycle detected", errors.ErrDependencyCycle).
//		WithCycle([]string{"a", "b", "a"})
//	fmt.Println(err) // "graph error [cycle=a -> b -> a]: cycle detected: dependency cycle detected"
type GraphError struct {
	baseError
	Cycle   []string
	Missing map[string][]string // unit id -> unknown dependency ids
}

// NewGraphError creates a new GraphError.
func NewGraphError(message string, cause error) *GraphError {
	return &GraphError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityCritical,
			retryable: false,
			kind:      KindInvalidGraph,
		},
	}
}

// WithCycle records the cycle path that was found.
func (e *GraphError) WithCycle(path []string) *GraphError {
	e.Cycle = append([]string(nil), path...)
	return e
}

// WithMissing records a unit's unknown dependency.
func (e *GraphError) WithMissing(unitID, depID string) *GraphError {
	if e.Missing == nil {
		e.Missing = make(map[string][]string)
	}
	e.Missing[unitID] = append(e.Missing[unitID], depID)
	return e
}

// Error returns the formatted error message.
func (e *GraphError) Error() string {
	var parts []string
	if len(e.Cycle) > 0 {
		parts = append(parts, fmt.Sprintf("cycle=%s", strings.Join(e.Cycle, " -> ")))
	}
	if len(e.Missing) > 0 {
		units := make([]string, 0, len(e.Missing))
		for id := range e.Missing {
			units = append(units, id)
		}
		sort.Strings(units)
		var pairs []string
		for _, id := range units {
			for _, dep := range e.Missing[id] {
				pairs = append(pairs, id+"->"+dep)
			}
		}
		parts = append(parts, fmt.Sprintf("missing=%s", strings.Join(pairs, ",")))
	}
	return e.format("graph error", parts)
}

// Is checks if this error matches the target.
func (e *GraphError) Is(target error) bool {
	if _, ok := target.(*GraphError); ok {
		return true
	}
	if target == ErrInvalidGraph {
		return true
	}
	return e.baseError.Is(target)
}

// UnitError represents a failure returned by a work unit's function.
//
// Example:
//
//	err := errors.NewUnitError("build", 2, cause)
//	fmt.Println(err) // "unit error [unit=build, attempt=2]: unit failed: <cause>"
type UnitError struct {
	baseError
	UnitID  string
	Attempt int
}

// NewUnitError creates a new UnitError for the given attempt (1-based).
// The error is retryable unless cause was marked with [Fatal].
func NewUnitError(unitID string, attempt int, cause error) *UnitError {
	return &UnitError{
		baseError: baseError{
			message:   "unit failed",
			cause:     cause,
			severity:  SeverityError,
			retryable: !IsFatal(cause),
			kind:      KindUnitFailure,
		},
		UnitID:  unitID,
		Attempt: attempt,
	}
}

// Error returns the formatted error message.
func (e *UnitError) Error() string {
	var parts []string
	if e.UnitID != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.UnitID))
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	return e.format("unit error", parts)
}

// Is checks if this error matches the target.
func (e *UnitError) Is(target error) bool {
	if _, ok := target.(*UnitError); ok {
		return true
	}
	if target == ErrUnitFailed {
		return true
	}
	return e.baseError.Is(target)
}

// SkippedError records why a unit was never run. It is not a failure of the
// unit itself and is reported separately from failed units.
type SkippedError struct {
	baseError
	UnitID     string
	Dependency string
}

// NewSkippedError creates a new SkippedError.
func NewSkippedError(unitID, dependency string) *SkippedError {
	return &SkippedError{
		baseError: baseError{
			message:   fmt.Sprintf("dependency %s did not complete", dependency),
			severity:  SeverityInfo,
			retryable: false,
			kind:      KindSkipped,
		},
		UnitID:     unitID,
		Dependency: dependency,
	}
}

// Error returns the formatted error message.
func (e *SkippedError) Error() string {
	return e.format(fmt.Sprintf("skipped [unit=%s]", e.UnitID), nil)
}

// Is checks if this error matches the target.
func (e *SkippedError) Is(target error) bool {
	if _, ok := target.(*SkippedError); ok {
		return true
	}
	return target == ErrSkipped
}

// PersistenceError represents an I/O or locking failure while saving state.
//
// Example:
//
//	err := errors.NewPersistenceError("rename", path, cause)
//	fmt.Println(err) // "persistence error [op=rename, path=/x/context.json]: save failed: <cause>"
type PersistenceError struct {
	baseError
	Op   string
	Path string
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, path string, cause error) *PersistenceError {
	return &PersistenceError{
		baseError: baseError{
			message:   "save failed",
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
			kind:      KindPersistenceFailure,
		},
		Op:   op,
		Path: path,
	}
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("persistence error", parts)
}

// Is checks if this error matches the target.
func (e *PersistenceError) Is(target error) bool {
	if _, ok := target.(*PersistenceError); ok {
		return true
	}
	if target == ErrPersistence {
		return true
	}
	return e.baseError.Is(target)
}

// CorruptedStateError reports a persisted file that could not be parsed and
// was moved aside. Loaders recover from it; it is surfaced for logging only.
type CorruptedStateError struct {
	baseError
	Path       string
	BackupPath string
}

// NewCorruptedStateError creates a new CorruptedStateError.
func NewCorruptedStateError(path, backupPath string, cause error) *CorruptedStateError {
	return &CorruptedStateError{
		baseError: baseError{
			message:   "state file unreadable",
			cause:     cause,
			severity:  SeverityWarning,
			retryable: false,
			kind:      KindCorruptedState,
		},
		Path:       path,
		BackupPath: backupPath,
	}
}

// Error returns the formatted error message.
func (e *CorruptedStateError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	if e.BackupPath != "" {
		parts = append(parts, fmt.Sprintf("backup=%s", e.BackupPath))
	}
	return e.format("corrupted state", parts)
}

// Is checks if this error matches the target.
func (e *CorruptedStateError) Is(target error) bool {
	if _, ok := target.(*CorruptedStateError); ok {
		return true
	}
	if target == ErrCorruptedState {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("unit", "build")
//	fmt.Println(err) // "unit not found: build"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:   fmt.Sprintf("%s not found", resourceType),
			severity:  SeverityWarning,
			retryable: false,
			kind:      KindNotFound,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("%s not found", e.ResourceType)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return target == ErrNotFound
}

// ValidationError represents invalid input or configuration.
//
// Example:
//
//	err := errors.NewValidationError("unit id cannot be empty").WithField("id")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:   message,
			severity:  SeverityWarning,
			retryable: false,
			kind:      KindValidation,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its deadline.
//
// Example:
//
//	err := errors.NewTimeoutError("unit build", 30*time.Second)
//	fmt.Println(err) // "timeout error: unit build (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true, // Timeouts are retried like any other failure
			kind:      KindTimeout,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Fatal marker
// -----------------------------------------------------------------------------

// fatalError marks its cause as not worth retrying.
type fatalError struct {
	cause error
}

func (e *fatalError) Error() string { return e.cause.Error() }
func (e *fatalError) Unwrap() error { return e.cause }

// Fatal marks err as non-retryable. Work functions return Fatal(err) when a
// retry cannot help (bad input, missing prerequisite). Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{cause: err}
}

// IsFatal reports whether err, or any error it wraps, was marked with [Fatal]
// or is a [GraphError].
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *fatalError
	if As(err, &fe) {
		return true
	}
	var ge *GraphError
	return As(err, &ge)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Errors marked [Fatal] are never retryable.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    time.Sleep(backoff)
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}

	var domainErr DomainError
	if As(err, &domainErr) {
		return domainErr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement DomainError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var domainErr DomainError
	if As(err, &domainErr) {
		return domainErr.Severity()
	}

	return SeverityError
}

// Kind returns the taxonomy name for err: one of the Kind* constants.
// Context cancellation maps to KindCanceled and deadline expiry to KindTimeout.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var domainErr DomainError
	if As(err, &domainErr) {
		return domainErr.Kind()
	}

	switch {
	case Is(err, ErrCanceled), Is(err, context.Canceled):
		return KindCanceled
	case Is(err, ErrTimeout), Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to load plan")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to load plan %s", path)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
