package types

import "fmt"

// Error codes relayed to transport clients. The taxonomy follows the core's
// failure classes: validation, resource, transient backend, storage,
// concurrency.
const (
	CodeSpecNotFound             = "SPEC_NOT_FOUND"
	CodeBackendNotFound          = "BACKEND_NOT_FOUND"
	CodeNoBackendConfigured      = "NO_BACKEND_CONFIGURED"
	CodeSpecTerminalState        = "SPEC_TERMINAL_STATE"
	CodeInvalidTransition        = "INVALID_TRANSITION"
	CodeDependenciesNotSatisfied = "DEPENDENCIES_NOT_SATISFIED"
	CodeCycleDetected            = "CYCLE_DETECTED"
	CodeExecutionInProgress      = "EXECUTION_IN_PROGRESS"
	CodeExecutionNotFound        = "EXECUTION_NOT_FOUND"
	CodeCursorTooOld             = "CURSOR_TOO_OLD"
	CodeVersionConflict          = "VERSION_CONFLICT"
	CodeBackendError             = "BACKEND_ERROR"
	CodeStorageError             = "STORAGE_ERROR"
	CodeChangeConflict           = "CHANGE_CONFLICT"
	CodeChangeNotPending         = "CHANGE_NOT_PENDING"
)

// CoreError provides structured error information for transport responses.
type CoreError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCoreError creates a new structured core error.
func NewCoreError(code string, message string, details map[string]interface{}) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// StorageError wraps a failure from the storage collaborator. The core treats
// storage calls as fallible remote calls; any failure surfaces as this type.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps err as a StorageError for the given operation.
// Returns nil when err is nil.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
