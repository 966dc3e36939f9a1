package models

import (
	"time"
)

// SpecStatus represents the possible lifecycle statuses of a spec.
type SpecStatus string

const (
	StatusPlanned    SpecStatus = "planned"
	StatusInProgress SpecStatus = "in-progress"
	StatusInReview   SpecStatus = "in-review"
	StatusTesting    SpecStatus = "testing"
	StatusCompleted  SpecStatus = "completed"
	StatusBlocked    SpecStatus = "blocked"
	StatusDeferred   SpecStatus = "deferred"
)

// AllSpecStatuses lists every valid status, for validation and iteration.
var AllSpecStatuses = []SpecStatus{
	StatusPlanned,
	StatusInProgress,
	StatusInReview,
	StatusTesting,
	StatusCompleted,
	StatusBlocked,
	StatusDeferred,
}

// IsValid reports whether s is one of the defined statuses.
func (s SpecStatus) IsValid() bool {
	for _, st := range AllSpecStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a spec in this status can no longer be executed.
func (s SpecStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeferred
}

// Spec represents a trackable unit of work with a conversation and lifecycle status.
type Spec struct {
	ID          string     `json:"id" validate:"required,uuid4"`
	Title       string     `json:"title" validate:"required,min=3,max=255"`
	Description string     `json:"description,omitempty"`
	Status      SpecStatus `json:"status" validate:"required,oneof=planned in-progress in-review testing completed blocked deferred"`
	// Dependencies holds IDs of specs this spec depends on. The relation over
	// all specs must stay acyclic; the store rejects edges that would close a
	// cycle before they are persisted.
	Dependencies []string `json:"dependencies,omitempty" validate:"dive,uuid4"`
	// Dependents is the derived reverse relation, managed internally.
	Dependents []string `json:"dependents,omitempty" validate:"dive,uuid4"`
	// Version is the optimistic-concurrency token. It increases by exactly 1
	// on every persisted mutation.
	Version   int64     `json:"version" validate:"min=1"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
	UpdatedAt time.Time `json:"updatedAt" validate:"required"`
}

// NewSpec creates a planned spec with default timestamps and version 1.
func NewSpec(id, title string) *Spec {
	now := time.Now().UTC()
	return &Spec{
		ID:           id,
		Title:        title,
		Status:       StatusPlanned,
		Dependencies: []string{},
		Dependents:   []string{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
