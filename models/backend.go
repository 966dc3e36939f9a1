package models

import "time"

// Capability is a feature a backend advertises.
type Capability string

const (
	CapChat            Capability = "chat"
	CapStreaming       Capability = "streaming"
	CapFunctionCalling Capability = "function-calling"
	CapVision          Capability = "vision"
	CapJSONMode        Capability = "json-mode"
)

// CapabilitySet is the set of capabilities a backend supports.
type CapabilitySet []Capability

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	for _, v := range s {
		if v == c {
			return true
		}
	}
	return false
}

// BackendConfig describes one configured AI-completion backend.
type BackendConfig struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Provider string `json:"provider" validate:"required,oneof=openai anthropic gemini ollama"`
	Model    string `json:"model" validate:"required,min=1"`
	APIKey   string `json:"-"`
	// BaseURL is required for ollama, optional elsewhere.
	BaseURL      string        `json:"baseUrl,omitempty"`
	Capabilities CapabilitySet `json:"capabilities,omitempty"`
	// IsDefault marks the backend resolved when no explicit id is given.
	// At most one backend holds this flag; the registry enforces it.
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}
