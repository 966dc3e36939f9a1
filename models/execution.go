package models

import "time"

// ExecutionStatus tracks one run of a spec against a backend.
// Terminal statuses (completed, failed, cancelled) are final and immutable.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution has finished.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// Execution records a single streamed run of a spec against a backend.
type Execution struct {
	ID               string          `json:"id" validate:"required,uuid4"`
	SpecID           string          `json:"specId" validate:"required,uuid4"`
	BackendID        string          `json:"backendId" validate:"required"`
	Model            string          `json:"model,omitempty"`
	Status           ExecutionStatus `json:"status" validate:"required,oneof=running completed failed cancelled"`
	PromptTokens     int             `json:"promptTokens" validate:"min=0"`
	CompletionTokens int             `json:"completionTokens" validate:"min=0"`
	// Error holds the failure reason for failed executions, empty otherwise.
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt" validate:"required"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs" validate:"min=0"`
}
