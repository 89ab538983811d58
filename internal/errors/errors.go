// Package errors provides structured error types for curator.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for curator.
const (
	// Initialization errors
	CodeNotInitialized     Code = "CURATOR_NOT_INITIALIZED"
	CodeAlreadyInitialized Code = "CURATOR_ALREADY_INITIALIZED"

	// Storage errors
	CodeStorageFailed Code = "STORAGE_FAILED"
	CodeItemNotFound  Code = "ITEM_NOT_FOUND"

	// Model routing errors
	CodeRouterMisconfigured Code = "ROUTER_MISCONFIGURED"
	CodeCapabilityMissing   Code = "CAPABILITY_MISSING"

	// Backend call errors
	CodeBackendNetwork     Code = "BACKEND_NETWORK"
	CodeBackendRateLimited Code = "BACKEND_RATE_LIMITED"
	CodeBackendTimeout     Code = "BACKEND_TIMEOUT"
	CodeDataInvalid        Code = "DATA_INVALID"
	CodePermanentFailure   Code = "PERMANENT_FAILURE"

	// Task and run errors
	CodeTaskNotFound  Code = "TASK_NOT_FOUND"
	CodeRunCancelled  Code = "RUN_CANCELLED"
	CodeWorkerLost    Code = "WORKER_LOST"
	CodeMaxRetries    Code = "MAX_RETRIES_EXCEEDED"
	CodeBreakerOpen   Code = "BREAKER_OPEN"
	CodeAgentBusy     Code = "AGENT_BUSY"
	CodeAgentNotRunning Code = "AGENT_NOT_RUNNING"

	// Schedule errors
	CodeScheduleNotFound Code = "SCHEDULE_NOT_FOUND"
	CodeScheduleInvalid  Code = "SCHEDULE_INVALID"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
	CategoryThrottled
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeNotInitialized:      CategoryBadRequest,
	CodeAlreadyInitialized:  CategoryConflict,
	CodeStorageFailed:       CategoryInternal,
	CodeItemNotFound:        CategoryNotFound,
	CodeRouterMisconfigured: CategoryBadRequest,
	CodeCapabilityMissing:   CategoryBadRequest,
	CodeBackendNetwork:      CategoryUnavailable,
	CodeBackendRateLimited:  CategoryThrottled,
	CodeBackendTimeout:      CategoryTimeout,
	CodeDataInvalid:         CategoryBadRequest,
	CodePermanentFailure:    CategoryNotFound,
	CodeTaskNotFound:        CategoryNotFound,
	CodeRunCancelled:        CategoryConflict,
	CodeWorkerLost:          CategoryInternal,
	CodeMaxRetries:          CategoryInternal,
	CodeBreakerOpen:         CategoryUnavailable,
	CodeAgentBusy:           CategoryConflict,
	CodeAgentNotRunning:     CategoryConflict,
	CodeScheduleNotFound:    CategoryNotFound,
	CodeScheduleInvalid:     CategoryBadRequest,
	CodeConfigInvalid:       CategoryBadRequest,
	CodeConfigMissing:       CategoryBadRequest,
}

// transientCodes marks codes whose failures may clear on their own. The
// retry manager consults this before falling back to message heuristics.
var transientCodes = map[Code]bool{
	CodeBackendNetwork:     true,
	CodeBackendRateLimited: true,
	CodeBackendTimeout:     true,
	CodeWorkerLost:         true,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	case CategoryThrottled:
		return 429
	default:
		return 500
	}
}

// CuratorError is the structured error type for curator.
type CuratorError struct {
	Code    Code   `json:"code"`
	What    string `json:"what"`
	Why     string `json:"why,omitempty"`
	Fix     string `json:"fix,omitempty"`
	DocsURL string `json:"docs_url,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *CuratorError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *CuratorError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *CuratorError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	if e.DocsURL != "" {
		b.WriteString("\n\nDocs: ")
		b.WriteString(e.DocsURL)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *CuratorError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *CuratorError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Transient reports whether the error's code marks a failure that may clear
// on retry without operator action.
func (e *CuratorError) Transient() bool {
	return transientCodes[e.Code]
}

// MarshalJSON implements json.Marshaler.
func (e *CuratorError) MarshalJSON() ([]byte, error) {
	type alias CuratorError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a CuratorError with the same code.
func (e *CuratorError) Is(target error) bool {
	t, ok := target.(*CuratorError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *CuratorError) WithCause(err error) *CuratorError {
	return &CuratorError{
		Code:    e.Code,
		What:    e.What,
		Why:     e.Why,
		Fix:     e.Fix,
		DocsURL: e.DocsURL,
		Cause:   err,
	}
}

// --- Error constructors ---

// ErrNotInitialized returns an error for an uninitialized curator directory.
func ErrNotInitialized() *CuratorError {
	return &CuratorError{
		Code:    CodeNotInitialized,
		What:    "curator is not initialized in this directory",
		Why:     "No .curator/ directory found in the current path or its parents",
		Fix:     "Run 'curator init' to initialize curator in this directory",
		DocsURL: "https://github.com/curator-ai/curator#quick-start",
	}
}

// ErrAlreadyInitialized returns an error when curator is already initialized.
func ErrAlreadyInitialized(path string) *CuratorError {
	return &CuratorError{
		Code:    CodeAlreadyInitialized,
		What:    "curator is already initialized",
		Why:     fmt.Sprintf("Found existing .curator/ directory at %s", path),
		Fix:     "Use 'curator init --force' to reinitialize, or remove .curator/ manually",
		DocsURL: "https://github.com/curator-ai/curator#initialization",
	}
}

// ErrStorageFailed returns an error for a failed storage operation.
func ErrStorageFailed(op string, cause error) *CuratorError {
	return &CuratorError{
		Code:  CodeStorageFailed,
		What:  fmt.Sprintf("storage operation %s failed", op),
		Why:   "The storage backend rejected or lost the operation",
		Fix:   "Check the database path or DSN in .curator/config.yaml and the underlying service",
		Cause: cause,
	}
}

// ErrItemNotFound returns an error when an item record doesn't exist.
func ErrItemNotFound(id string) *CuratorError {
	return &CuratorError{
		Code: CodeItemNotFound,
		What: fmt.Sprintf("item %s not found", id),
		Why:  "No item record with this id exists in the store",
		Fix:  "Run 'curator items list' to see known items",
	}
}

// ErrRouterMisconfigured returns an error when a phase has no usable model binding.
func ErrRouterMisconfigured(phase, reason string) *CuratorError {
	return &CuratorError{
		Code:    CodeRouterMisconfigured,
		What:    fmt.Sprintf("no model binding for phase %s", phase),
		Why:     reason,
		Fix:     "Add a backend and model for this phase under 'models:' in .curator/config.yaml",
		DocsURL: "https://github.com/curator-ai/curator#model-routing",
	}
}

// ErrCapabilityMissing returns an error when the resolved backend lacks a
// capability the phase requires.
func ErrCapabilityMissing(phase, backend, capability string) *CuratorError {
	return &CuratorError{
		Code:    CodeCapabilityMissing,
		What:    fmt.Sprintf("backend %s cannot serve phase %s", backend, phase),
		Why:     fmt.Sprintf("The phase requires %s, which this backend does not support", capability),
		Fix:     "Route the phase to a backend with the required capability",
		DocsURL: "https://github.com/curator-ai/curator#model-routing",
	}
}

// ErrBackendNetwork returns an error for a failed backend connection.
func ErrBackendNetwork(backend string, cause error) *CuratorError {
	return &CuratorError{
		Code:  CodeBackendNetwork,
		What:  fmt.Sprintf("backend %s is unreachable", backend),
		Why:   "The request failed before a response was received",
		Fix:   "Check network connectivity and the backend endpoint; the item will be retried",
		Cause: cause,
	}
}

// ErrBackendRateLimited returns an error when a backend throttles requests.
func ErrBackendRateLimited(backend string, cause error) *CuratorError {
	return &CuratorError{
		Code:  CodeBackendRateLimited,
		What:  fmt.Sprintf("backend %s rate limited the request", backend),
		Why:   "Too many requests were sent in the current window",
		Fix:   "Lower the ai_processing queue rate limit, or wait for the delayed retry",
		Cause: cause,
	}
}

// ErrBackendTimeout returns an error when a backend call exceeds its deadline.
func ErrBackendTimeout(backend string, timeout string) *CuratorError {
	return &CuratorError{
		Code: CodeBackendTimeout,
		What: fmt.Sprintf("backend %s timed out", backend),
		Why:  fmt.Sprintf("No response received after %s", timeout),
		Fix:  "Increase the per-call timeout in config, or check the backend's status",
	}
}

// ErrDataInvalid returns an error for unparseable or schema-violating data.
func ErrDataInvalid(what string, cause error) *CuratorError {
	return &CuratorError{
		Code:  CodeDataInvalid,
		What:  fmt.Sprintf("invalid data: %s", what),
		Why:   "The payload failed parsing or schema validation",
		Fix:   "Inspect the item's error annotation; a retry may succeed if the backend output varies",
		Cause: cause,
	}
}

// ErrPermanentFailure returns an error for failures that will not clear on retry.
func ErrPermanentFailure(what string, cause error) *CuratorError {
	return &CuratorError{
		Code:  CodePermanentFailure,
		What:  what,
		Why:   "The source reports the resource as gone or forbidden permanently",
		Fix:   "Remove the item or mark it skipped; retrying will not help",
		Cause: cause,
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *CuratorError {
	return &CuratorError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this id exists in the runtime's active set or history",
		Fix:  "Run 'curator tasks list' to see known tasks",
	}
}

// ErrRunCancelled returns an error describing a cooperative cancellation.
func ErrRunCancelled(scope string) *CuratorError {
	return &CuratorError{
		Code: CodeRunCancelled,
		What: fmt.Sprintf("%s was cancelled", scope),
		Why:  "A stop request was honored at a cancellation point",
		Fix:  "Start a new run to resume; completed work is preserved",
	}
}

// ErrWorkerLost returns an error when a worker stops heartbeating.
func ErrWorkerLost(taskID string, silence string) *CuratorError {
	return &CuratorError{
		Code: CodeWorkerLost,
		What: fmt.Sprintf("worker for task %s was declared lost", taskID),
		Why:  fmt.Sprintf("No heartbeat received for %s", silence),
		Fix:  "The task may be re-enqueued if retry policy allows; check worker logs",
	}
}

// ErrMaxRetries returns an error when max retries are exceeded.
func ErrMaxRetries(itemID string, attempts int) *CuratorError {
	return &CuratorError{
		Code: CodeMaxRetries,
		What: fmt.Sprintf("item %s failed after %d attempts", itemID, attempts),
		Why:  "Maximum retry attempts exceeded without success",
		Fix:  "Inspect the item's error annotation, fix the cause, then request a reprocess",
	}
}

// ErrBreakerOpen returns an error when an item's circuit breaker is open.
func ErrBreakerOpen(itemID string, until string) *CuratorError {
	return &CuratorError{
		Code: CodeBreakerOpen,
		What: fmt.Sprintf("retries for item %s are suspended", itemID),
		Why:  fmt.Sprintf("The item's circuit breaker is open until %s", until),
		Fix:  "Wait for the cool-off to expire, or clear the item's retry state",
	}
}

// ErrAgentBusy returns an error when a run is already in progress.
func ErrAgentBusy(taskID string) *CuratorError {
	return &CuratorError{
		Code: CodeAgentBusy,
		What: "a pipeline run is already in progress",
		Why:  fmt.Sprintf("Run %s is active and only one run may execute at a time", taskID),
		Fix:  "Wait for the run to finish, or stop it with 'curator stop'",
	}
}

// ErrAgentNotRunning returns an error for a stop request with no active run.
func ErrAgentNotRunning() *CuratorError {
	return &CuratorError{
		Code: CodeAgentNotRunning,
		What: "no pipeline run is in progress",
		Why:  "Stop was requested but the agent is idle",
		Fix:  "Nothing to do; start a run with 'curator run'",
	}
}

// ErrScheduleNotFound returns an error when a schedule doesn't exist.
func ErrScheduleNotFound(name string) *CuratorError {
	return &CuratorError{
		Code: CodeScheduleNotFound,
		What: fmt.Sprintf("schedule %s not found", name),
		Why:  "No schedule definition with this name exists",
		Fix:  "Run 'curator schedules list' to see defined schedules",
	}
}

// ErrScheduleInvalid returns an error for a malformed schedule definition.
func ErrScheduleInvalid(name, reason string) *CuratorError {
	return &CuratorError{
		Code: CodeScheduleInvalid,
		What: fmt.Sprintf("schedule %s is invalid", name),
		Why:  reason,
		Fix:  "Fix the schedule's frequency or cron expression",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *CuratorError {
	return &CuratorError{
		Code:    CodeConfigInvalid,
		What:    fmt.Sprintf("invalid configuration: %s", field),
		Why:     reason,
		Fix:     "Check .curator/config.yaml and fix the invalid field",
		DocsURL: "https://github.com/curator-ai/curator#configuration",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *CuratorError {
	return &CuratorError{
		Code:    CodeConfigMissing,
		What:    fmt.Sprintf("missing required configuration: %s", field),
		Why:     "This field is required but not set in configuration",
		Fix:     fmt.Sprintf("Add '%s' to .curator/config.yaml", field),
		DocsURL: "https://github.com/curator-ai/curator#configuration",
	}
}

// AsCuratorError attempts to convert an error to a CuratorError.
// Returns nil if the error is not a CuratorError.
func AsCuratorError(err error) *CuratorError {
	var cErr *CuratorError
	if As(err, &cErr) {
		return cErr
	}
	return nil
}

// As is a convenience wrapper for errors.As so callers need only one
// errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Wrap wraps a generic error into a CuratorError with unknown code.
func Wrap(err error, what string) *CuratorError {
	return &CuratorError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
