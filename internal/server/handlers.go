package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/josephgoksu/specwing/internal/backend"
	"github.com/josephgoksu/specwing/models"
)

func (s *Server) handleCreateSpec(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.coord.CreateSpec(r.Context(), req.Title, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	specs, err := s.store.ListSpecs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	sp, err := s.store.GetSpec(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.SpecStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := s.coord.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSpec(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSpec(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	depth := -1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			http.Error(w, "invalid depth", http.StatusBadRequest)
			return
		}
		depth = d
	}
	writeJSON(w, http.StatusOK, s.coord.Traverse(id, depth))
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DependsOn string `json:"dependsOn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DependsOn == "" {
		http.Error(w, "dependsOn is required", http.StatusBadRequest)
		return
	}
	if err := s.coord.AddDependency(r.Context(), r.PathValue("id"), req.DependsOn); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.RemoveDependency(r.Context(), r.PathValue("id"), r.PathValue("depId")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BackendID string `json:"backendId"`
		Prompt    string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ex, err := s.coord.Start(r.Context(), r.PathValue("id"), req.BackendID, req.Prompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ex)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := s.store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Cancel(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// apiBackend is the wire shape of a registered backend. API keys never leave
// the process.
type apiBackend struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Provider     string               `json:"provider"`
	Model        string               `json:"model"`
	IsDefault    bool                 `json:"isDefault"`
	Capabilities models.CapabilitySet `json:"capabilities,omitempty"`
	Health       backend.HealthReport `json:"health"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	handles := s.registry.List()
	out := make([]apiBackend, 0, len(handles))
	for _, h := range handles {
		cfg := h.Config()
		out = append(out, apiBackend{
			ID:           cfg.ID,
			Name:         cfg.Name,
			Provider:     cfg.Provider,
			Model:        cfg.Model,
			IsDefault:    cfg.IsDefault,
			Capabilities: h.Adapter().Capabilities(),
			Health:       h.LastHealth(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetDefaultBackend(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.SetDefault(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.registry.HealthCheck(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListFileChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.store.ListFileChanges(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleApplyChange(w http.ResponseWriter, r *http.Request) {
	fc, err := s.applier.Apply(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleRejectChange(w http.ResponseWriter, r *http.Request) {
	fc, err := s.applier.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}
