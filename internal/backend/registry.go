package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/josephgoksu/specwing/models"
)

var (
	// ErrBackendNotFound is returned when no backend has the requested id.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrNoBackendConfigured is returned by ResolveDefault when no backend
	// carries the default flag and none exists to fall back to.
	ErrNoBackendConfigured = errors.New("no backend configured")
)

const (
	// DefaultHealthCacheTTL is how long a health report stays fresh.
	DefaultHealthCacheTTL = 30 * time.Second

	// DefaultHealthTimeout bounds one health probe when the caller's context
	// has no tighter deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Handle is a registered backend: its config, its adapter, and the cached
// health state. Handles are owned by the Registry; callers borrow them for
// the lifetime of one execution.
type Handle struct {
	cfg     models.BackendConfig
	adapter Adapter

	mu        sync.Mutex
	health    HealthReport
	checkedAt time.Time
}

// ID returns the backend's identity.
func (h *Handle) ID() string { return h.cfg.ID }

// Config returns a copy of the backend's config.
func (h *Handle) Config() models.BackendConfig { return h.cfg }

// Adapter returns the underlying provider adapter.
func (h *Handle) Adapter() Adapter { return h.adapter }

// LastHealth returns the most recent health report, which may be the zero
// report with StatusUnknown if no check has run yet.
func (h *Handle) LastHealth() HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.health.Status == "" {
		return HealthReport{Status: StatusUnknown}
	}
	return h.health
}

// Registry holds configured backends under a single-writer/many-reader
// discipline and enforces the at-most-one-default invariant.
type Registry struct {
	mu        sync.RWMutex
	handles   map[string]*Handle
	order     []string // registration order, for stable List output
	defaultID string

	factory   Factory
	healthTTL time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory overrides how adapters are built, used by tests.
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithHealthCacheTTL overrides the health cache window.
func WithHealthCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.healthTTL = ttl
		}
	}
}

// NewRegistry creates an empty registry using the production adapter factory.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handles:   make(map[string]*Handle),
		factory:   NewAdapter,
		healthTTL: DefaultHealthCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates cfg, builds its adapter, and adds it to the registry.
// A config flagged default displaces any previous default atomically.
func (r *Registry) Register(ctx context.Context, cfg models.BackendConfig) (*Handle, error) {
	if _, err := ValidateProvider(cfg.Provider); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModelForProvider(cfg.Provider)
	}

	adapter, err := r.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[cfg.ID]; exists {
		return nil, fmt.Errorf("backend %s already registered", cfg.ID)
	}

	if cfg.IsDefault {
		r.clearDefaultLocked()
		r.defaultID = cfg.ID
	}
	h := &Handle{cfg: cfg, adapter: adapter}
	r.handles[cfg.ID] = h
	r.order = append(r.order, cfg.ID)
	return h, nil
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	return h, nil
}

// ResolveDefault returns the backend carrying the default flag. When no flag
// is set and exactly one backend is registered, that backend is deliberately
// resolved anyway: a single-backend deployment should not have to flag its
// only choice. With several backends and no flag the caller must pick one, so
// ErrNoBackendConfigured is returned.
func (r *Registry) ResolveDefault() (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultID != "" {
		return r.handles[r.defaultID], nil
	}
	if len(r.order) == 1 {
		return r.handles[r.order[0]], nil
	}
	return nil, ErrNoBackendConfigured
}

// SetDefault marks id as the default backend, clearing the flag on all
// others under one writer lock.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	r.clearDefaultLocked()
	h.cfg.IsDefault = true
	r.defaultID = id
	return nil
}

func (r *Registry) clearDefaultLocked() {
	if r.defaultID == "" {
		return
	}
	if prev, ok := r.handles[r.defaultID]; ok {
		prev.cfg.IsDefault = false
	}
	r.defaultID = ""
}

// List returns all handles in registration order.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handles[id])
	}
	return out
}

// HealthCheck probes backend id with a bounded timeout. Repeated checks
// inside the cache TTL return the cached report instead of re-querying the
// provider. A probe that exceeds its deadline reports unhealthy rather than
// blocking.
func (r *Registry) HealthCheck(ctx context.Context, id string) (HealthReport, error) {
	h, err := r.Get(id)
	if err != nil {
		return HealthReport{}, err
	}

	h.mu.Lock()
	if !h.checkedAt.IsZero() && time.Since(h.checkedAt) < r.healthTTL {
		cached := h.health
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	report := h.adapter.HealthCheck(ctx)
	if report.CheckedAt.IsZero() {
		report.CheckedAt = time.Now().UTC()
	}

	h.mu.Lock()
	h.health = report
	h.checkedAt = time.Now()
	h.mu.Unlock()
	return report, nil
}
