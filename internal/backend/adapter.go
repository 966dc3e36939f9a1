// Package backend provides the uniform adapter contract over heterogeneous
// AI-completion providers and the registry that tracks configured backends,
// their health, and the default selection.
package backend

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/josephgoksu/specwing/models"
)

// HealthStatus classifies the outcome of a backend probe.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// HealthReport is the result of one health check.
type HealthReport struct {
	Status          HealthStatus `json:"status"`
	LatencyMs       int64        `json:"latencyMs"`
	ModelsAvailable []string     `json:"modelsAvailable,omitempty"`
	Error           string       `json:"error,omitempty"`
	CheckedAt       time.Time    `json:"checkedAt"`
}

// Adapter is the uniform contract over completion providers. Implementations
// must honor ctx cancellation on every call.
type Adapter interface {
	// Stream starts a token-streaming completion. The returned reader yields
	// message chunks in provider order until io.EOF.
	Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)

	// Generate runs a single non-streaming completion.
	Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error)

	// HealthCheck probes the provider within the ctx deadline. It never
	// returns an error; failures are folded into the report status.
	HealthCheck(ctx context.Context) HealthReport

	// ListModels returns the models known to be served by this backend.
	ListModels(ctx context.Context) ([]string, error)

	// Capabilities reports the features this backend supports.
	Capabilities() models.CapabilitySet
}

// Factory builds an Adapter from a backend config. The registry uses it so
// tests can inject scripted adapters.
type Factory func(ctx context.Context, cfg models.BackendConfig) (Adapter, error)
