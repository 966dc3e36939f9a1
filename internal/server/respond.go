package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/josephgoksu/specwing/internal/apply"
	"github.com/josephgoksu/specwing/internal/backend"
	"github.com/josephgoksu/specwing/internal/exec"
	"github.com/josephgoksu/specwing/internal/spec"
	"github.com/josephgoksu/specwing/internal/stream"
	"github.com/josephgoksu/specwing/store"
	"github.com/josephgoksu/specwing/types"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps core errors onto HTTP statuses and the wire error shape.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		ite  *spec.InvalidTransitionError
		dnse *spec.DependenciesNotSatisfiedError
		cde  *spec.CycleDetectedError
		se   *types.StorageError
	)
	switch {
	case errors.As(err, &ite):
		writeJSON(w, http.StatusUnprocessableEntity, types.NewCoreError(types.CodeInvalidTransition, err.Error(), map[string]interface{}{
			"from": ite.From, "to": ite.To,
		}))
	case errors.As(err, &dnse):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeDependenciesNotSatisfied, err.Error(), map[string]interface{}{
			"count": dnse.Count,
		}))
	case errors.As(err, &cde):
		writeJSON(w, http.StatusUnprocessableEntity, types.NewCoreError(types.CodeCycleDetected, err.Error(), map[string]interface{}{
			"from": cde.From, "to": cde.To,
		}))
	case errors.Is(err, exec.ErrSpecNotFound):
		writeJSON(w, http.StatusNotFound, types.NewCoreError(types.CodeSpecNotFound, err.Error(), nil))
	case errors.Is(err, exec.ErrExecutionNotFound):
		writeJSON(w, http.StatusNotFound, types.NewCoreError(types.CodeExecutionNotFound, err.Error(), nil))
	case errors.Is(err, backend.ErrBackendNotFound):
		writeJSON(w, http.StatusNotFound, types.NewCoreError(types.CodeBackendNotFound, err.Error(), nil))
	case errors.Is(err, exec.ErrNoBackendAvailable), errors.Is(err, backend.ErrNoBackendConfigured):
		writeJSON(w, http.StatusServiceUnavailable, types.NewCoreError(types.CodeNoBackendConfigured, err.Error(), nil))
	case errors.Is(err, exec.ErrSpecTerminal):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeSpecTerminalState, err.Error(), nil))
	case errors.Is(err, exec.ErrExecutionInProgress):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeExecutionInProgress, err.Error(), nil))
	case errors.Is(err, stream.ErrCursorTooOld):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeCursorTooOld, err.Error(), nil))
	case errors.Is(err, store.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeVersionConflict, err.Error(), nil))
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, types.NewCoreError(types.CodeSpecNotFound, err.Error(), nil))
	case errors.Is(err, apply.ErrConflict):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeChangeConflict, err.Error(), nil))
	case errors.Is(err, apply.ErrNotPending):
		writeJSON(w, http.StatusConflict, types.NewCoreError(types.CodeChangeNotPending, err.Error(), nil))
	case errors.As(err, &se):
		// Wrapped sentinels (not-found, version conflict) are matched above;
		// anything left is a genuine storage failure.
		s.logger.Error("storage call failed", "op", se.Op, "error", se.Err)
		writeJSON(w, http.StatusInternalServerError, types.NewCoreError(types.CodeStorageError, err.Error(), map[string]interface{}{
			"op": se.Op,
		}))
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, types.NewCoreError(types.CodeStorageError, err.Error(), nil))
	}
}
