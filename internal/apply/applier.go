// Package apply materializes reviewed file changes onto a workspace
// filesystem. Every change leaves pending exactly once: applied, rejected,
// or conflicted.
package apply

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/josephgoksu/specwing/models"
	"github.com/josephgoksu/specwing/store"
)

var (
	// ErrNotPending is returned when the change already left pending.
	ErrNotPending = errors.New("file change is not pending")

	// ErrConflict is returned when the workspace no longer matches the state
	// the change was proposed against. The change is marked conflicted.
	ErrConflict = errors.New("file change conflicts with workspace state")
)

// Applier applies file changes to one workspace filesystem.
type Applier struct {
	fs    afero.Fs
	store store.Store
}

// New builds an applier over the given filesystem, typically a base-path fs
// rooted at the workspace.
func New(fs afero.Fs, st store.Store) *Applier {
	return &Applier{fs: fs, store: st}
}

// Apply materializes a pending change. On a workspace mismatch the change is
// persisted as conflicted and ErrConflict is returned; nothing is written.
func (a *Applier) Apply(ctx context.Context, changeID string) (models.FileChange, error) {
	fc, err := a.store.GetFileChange(ctx, changeID)
	if err != nil {
		return models.FileChange{}, err
	}
	if fc.Status != models.ChangePending {
		return fc, fmt.Errorf("%w: %s is %s", ErrNotPending, changeID, fc.Status)
	}

	if err := a.materialize(fc); err != nil {
		if errors.Is(err, ErrConflict) {
			return a.conclude(ctx, fc, models.ChangeConflicted, err)
		}
		return fc, err
	}
	return a.conclude(ctx, fc, models.ChangeApplied, nil)
}

// Reject marks a pending change rejected without touching the workspace.
func (a *Applier) Reject(ctx context.Context, changeID string) (models.FileChange, error) {
	fc, err := a.store.GetFileChange(ctx, changeID)
	if err != nil {
		return models.FileChange{}, err
	}
	if fc.Status != models.ChangePending {
		return fc, fmt.Errorf("%w: %s is %s", ErrNotPending, changeID, fc.Status)
	}
	return a.conclude(ctx, fc, models.ChangeRejected, nil)
}

func (a *Applier) conclude(ctx context.Context, fc models.FileChange, status models.FileChangeStatus, cause error) (models.FileChange, error) {
	fc.Status = status
	fc.UpdatedAt = time.Now().UTC()
	updated, err := a.store.UpdateFileChange(ctx, fc)
	if err != nil {
		return fc, err
	}
	return updated, cause
}

func (a *Applier) materialize(fc models.FileChange) error {
	switch fc.Kind {
	case models.ChangeCreate:
		if exists, err := afero.Exists(a.fs, fc.FilePath); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s already exists", ErrConflict, fc.FilePath)
		}
		return a.write(fc.FilePath, fc.NewContent)

	case models.ChangeModify:
		// With a captured baseline the target must still match it. Without
		// one, a missing target becomes a create.
		if fc.OriginalContent != "" {
			current, err := afero.ReadFile(a.fs, fc.FilePath)
			if err != nil {
				return fmt.Errorf("%w: %s cannot be read", ErrConflict, fc.FilePath)
			}
			if string(current) != fc.OriginalContent {
				return fmt.Errorf("%w: %s diverged from proposed baseline", ErrConflict, fc.FilePath)
			}
		}
		return a.write(fc.FilePath, fc.NewContent)

	case models.ChangeDelete:
		if exists, err := afero.Exists(a.fs, fc.FilePath); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %s does not exist", ErrConflict, fc.FilePath)
		}
		return a.fs.Remove(fc.FilePath)

	case models.ChangeRename:
		if fc.NewPath == "" {
			return fmt.Errorf("rename %s: no target path", fc.FilePath)
		}
		if exists, err := afero.Exists(a.fs, fc.FilePath); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %s does not exist", ErrConflict, fc.FilePath)
		}
		if exists, err := afero.Exists(a.fs, fc.NewPath); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s already exists", ErrConflict, fc.NewPath)
		}
		if err := a.fs.MkdirAll(filepath.Dir(fc.NewPath), 0o755); err != nil {
			return err
		}
		return a.fs.Rename(fc.FilePath, fc.NewPath)

	default:
		return fmt.Errorf("unknown change kind %q", fc.Kind)
	}
}

func (a *Applier) write(path, content string) error {
	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(a.fs, path, []byte(content), 0o644)
}
