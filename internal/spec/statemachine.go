// Package spec implements the pure spec-lifecycle logic: the status state
// machine and the dependency graph. Neither does any I/O.
package spec

import (
	"fmt"
	"time"

	"github.com/josephgoksu/specwing/models"
)

// transitions is the closed table of allowed status moves. Self-transitions
// are always allowed and handled separately.
var transitions = map[models.SpecStatus][]models.SpecStatus{
	models.StatusPlanned:    {models.StatusInProgress, models.StatusBlocked, models.StatusDeferred},
	models.StatusInProgress: {models.StatusInReview, models.StatusBlocked, models.StatusTesting},
	models.StatusInReview:   {models.StatusInProgress, models.StatusTesting, models.StatusCompleted},
	models.StatusTesting:    {models.StatusInProgress, models.StatusCompleted},
	models.StatusBlocked:    {models.StatusPlanned, models.StatusInProgress},
	models.StatusDeferred:   {models.StatusPlanned},
	models.StatusCompleted:  {},
}

// InvalidTransitionError is returned for any (from, to) pair outside the table.
type InvalidTransitionError struct {
	From models.SpecStatus
	To   models.SpecStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// DependenciesNotSatisfiedError is returned when a spec tries to enter
// in-progress while direct dependencies remain incomplete.
type DependenciesNotSatisfiedError struct {
	Count int
}

func (e *DependenciesNotSatisfiedError) Error() string {
	return fmt.Sprintf("%d dependencies not completed", e.Count)
}

// CanTransition reports whether the table allows moving from one status to
// another. It does not consider the dependency gate.
func CanTransition(from, to models.SpecStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses reachable from the given status,
// excluding the always-allowed self-transition.
func AllowedFrom(from models.SpecStatus) []models.SpecStatus {
	out := make([]models.SpecStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// Transition validates and applies a status change to s in place.
//
// unsatisfiedDeps is the number of direct dependencies not yet completed; it
// only matters when entering in-progress, where a non-zero count fails with
// DependenciesNotSatisfiedError instead of InvalidTransitionError. An
// accepted transition increments Version by exactly 1 and stamps UpdatedAt;
// no other field is touched.
func Transition(s *models.Spec, to models.SpecStatus, unsatisfiedDeps int) error {
	if !to.IsValid() {
		return &InvalidTransitionError{From: s.Status, To: to}
	}
	if !CanTransition(s.Status, to) {
		return &InvalidTransitionError{From: s.Status, To: to}
	}
	if to == models.StatusInProgress && s.Status != models.StatusInProgress && unsatisfiedDeps > 0 {
		return &DependenciesNotSatisfiedError{Count: unsatisfiedDeps}
	}

	s.Status = to
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return nil
}
