// Package store defines the storage collaborator the orchestration core
// persists through, plus its SQLite implementation. The core treats every
// call as a fallible remote call and never caches mutable copies across
// executions.
package store

import (
	"context"
	"errors"

	"github.com/josephgoksu/specwing/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by UpdateSpec when the stored version
	// does not match the optimistic-lock token; the caller must refetch and
	// retry.
	ErrVersionConflict = errors.New("spec version conflict")
)

// Store is the persistence contract for specs, conversations, file changes,
// executions and backend configs.
type Store interface {
	CreateSpec(ctx context.Context, spec models.Spec) (models.Spec, error)

	// GetSpec returns the spec with its Dependencies and Dependents resolved.
	GetSpec(ctx context.Context, id string) (models.Spec, error)

	// UpdateSpec persists a mutated spec. The caller increments Version
	// before calling; the update succeeds only if the stored version is
	// exactly Version-1, otherwise ErrVersionConflict.
	UpdateSpec(ctx context.Context, spec models.Spec) (models.Spec, error)

	ListSpecs(ctx context.Context) ([]models.Spec, error)

	// AddDependency persists a from -> to dependency edge. Cycle rejection
	// happens in the dependency graph before this is called; the store only
	// enforces that both specs exist.
	AddDependency(ctx context.Context, fromID, toID string) error
	RemoveDependency(ctx context.Context, fromID, toID string) error

	// ListMessages returns a spec's conversation in creation order.
	ListMessages(ctx context.Context, specID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)

	CreateFileChange(ctx context.Context, fc models.FileChange) (models.FileChange, error)
	GetFileChange(ctx context.Context, id string) (models.FileChange, error)
	UpdateFileChange(ctx context.Context, fc models.FileChange) (models.FileChange, error)
	ListFileChanges(ctx context.Context, messageID string) ([]models.FileChange, error)

	CreateExecution(ctx context.Context, ex models.Execution) (models.Execution, error)
	GetExecution(ctx context.Context, id string) (models.Execution, error)
	UpdateExecution(ctx context.Context, ex models.Execution) (models.Execution, error)
	ListExecutions(ctx context.Context, specID string) ([]models.Execution, error)

	CreateBackend(ctx context.Context, cfg models.BackendConfig) (models.BackendConfig, error)
	ListBackends(ctx context.Context) ([]models.BackendConfig, error)

	// Close releases the underlying connection. The store must not be used
	// afterwards.
	Close() error
}
