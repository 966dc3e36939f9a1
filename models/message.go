package models

import "time"

// MessageRole identifies who produced a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one entry in a spec's conversation. Immutable once persisted.
type Message struct {
	ID         string      `json:"id" validate:"required,uuid4"`
	SpecID     string      `json:"specId" validate:"required,uuid4"`
	Role       MessageRole `json:"role" validate:"required,oneof=user assistant system"`
	Content    string      `json:"content"`
	TokenCount int         `json:"tokenCount" validate:"min=0"`
	// Model records which backend model produced the message, empty for
	// user/system messages.
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

// FileChangeKind describes what a proposed change does to its target path.
type FileChangeKind string

const (
	ChangeCreate FileChangeKind = "create"
	ChangeModify FileChangeKind = "modify"
	ChangeDelete FileChangeKind = "delete"
	ChangeRename FileChangeKind = "rename"
)

// FileChangeStatus tracks the lifecycle of a proposed change.
// A change transitions out of pending exactly once.
type FileChangeStatus string

const (
	ChangePending    FileChangeStatus = "pending"
	ChangeApplied    FileChangeStatus = "applied"
	ChangeRejected   FileChangeStatus = "rejected"
	ChangeConflicted FileChangeStatus = "conflicted"
)

// FileChange is a change to one file proposed by an execution.
type FileChange struct {
	ID        string         `json:"id" validate:"required,uuid4"`
	MessageID string         `json:"messageId" validate:"required,uuid4"`
	FilePath  string         `json:"filePath" validate:"required"`
	Kind      FileChangeKind `json:"kind" validate:"required,oneof=create modify delete rename"`
	// NewPath is only set for renames.
	NewPath         string           `json:"newPath,omitempty"`
	OriginalContent string           `json:"originalContent,omitempty"`
	NewContent      string           `json:"newContent,omitempty"`
	Status          FileChangeStatus `json:"status" validate:"required,oneof=pending applied rejected conflicted"`
	CreatedAt       time.Time        `json:"createdAt" validate:"required"`
	UpdatedAt       time.Time        `json:"updatedAt" validate:"required"`
}
