// Package exec hosts the execution coordinator: the control plane that runs
// specs against backends, fans streamed output out to viewers, and keeps the
// spec graph and lifecycle consistent with what storage records.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/josephgoksu/specwing/internal/backend"
	"github.com/josephgoksu/specwing/internal/spec"
	"github.com/josephgoksu/specwing/internal/stream"
	"github.com/josephgoksu/specwing/internal/telemetry"
	"github.com/josephgoksu/specwing/models"
	"github.com/josephgoksu/specwing/store"
	"github.com/josephgoksu/specwing/types"
)

var (
	// ErrSpecNotFound is returned when the referenced spec does not exist.
	ErrSpecNotFound = errors.New("spec not found")

	// ErrSpecTerminal is returned when starting an execution for a spec in a
	// terminal status.
	ErrSpecTerminal = errors.New("spec is in a terminal status")

	// ErrNoBackendAvailable is returned when no backend can serve the request.
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrExecutionInProgress is returned when a spec already has an active
	// execution. At most one execution runs per spec at a time.
	ErrExecutionInProgress = errors.New("execution already in progress for spec")

	// ErrExecutionNotFound is returned when the execution id is unknown or its
	// event stream has already been discarded.
	ErrExecutionNotFound = errors.New("execution not found")
)

const (
	// DefaultRequestTimeout bounds one full backend exchange.
	DefaultRequestTimeout = 10 * time.Minute

	// DefaultGracePeriod keeps a finished execution's event buffer around for
	// late subscribers before it is discarded.
	DefaultGracePeriod = 60 * time.Second
)

// Config tunes coordinator timing and buffering. Zero fields take defaults.
type Config struct {
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	BufferSize        int
	GracePeriod       time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = stream.DefaultBufferSize
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	// HeartbeatInterval <= 0 disables heartbeats; callers opt in explicitly.
	return c
}

// run is one live (or recently finished) execution.
type run struct {
	execution models.Execution
	mux       *stream.Multiplexer
	cancel    context.CancelFunc
	done      chan struct{}
}

// Coordinator owns execution lifecycles. All mutable state is behind one
// mutex; streaming work happens on per-execution goroutines that the mutex
// never spans.
type Coordinator struct {
	store     store.Store
	registry  *backend.Registry
	logger    *slog.Logger
	telemetry telemetry.Client
	cfg       Config

	mu     sync.Mutex
	graph  *spec.Graph
	runs   map[string]*run   // execution id -> run
	bySpec map[string]string // spec id -> active execution id
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTelemetry sets the analytics client.
func WithTelemetry(t telemetry.Client) Option {
	return func(c *Coordinator) { c.telemetry = t }
}

// WithConfig sets timing and buffering parameters.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg.withDefaults() }
}

// New builds a coordinator and loads the dependency graph from storage.
func New(ctx context.Context, st store.Store, reg *backend.Registry, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:     st,
		registry:  reg,
		logger:    slog.Default(),
		telemetry: telemetry.Noop{},
		cfg:       Config{}.withDefaults(),
		runs:      make(map[string]*run),
		bySpec:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	specs, err := st.ListSpecs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dependency graph: %w", err)
	}
	c.graph = spec.BuildGraph(specs)
	return c, nil
}

// CreateSpec validates and persists a new spec and registers it in the graph.
func (c *Coordinator) CreateSpec(ctx context.Context, title, description string) (models.Spec, error) {
	s := models.NewSpec(uuid.NewString(), title)
	s.Description = description
	if err := models.ValidateStruct(s); err != nil {
		return models.Spec{}, err
	}
	created, err := c.store.CreateSpec(ctx, *s)
	if err != nil {
		return models.Spec{}, types.WrapStorage("create spec", err)
	}
	c.mu.Lock()
	c.graph.AddNode(created.ID)
	c.mu.Unlock()
	return created, nil
}

// SetStatus applies a validated lifecycle transition and persists it under
// the spec's optimistic lock.
func (c *Coordinator) SetStatus(ctx context.Context, specID string, to models.SpecStatus) (models.Spec, error) {
	s, err := c.store.GetSpec(ctx, specID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Spec{}, fmt.Errorf("%w: %s", ErrSpecNotFound, specID)
		}
		return models.Spec{}, types.WrapStorage("get spec", err)
	}

	unsatisfied := 0
	if to == models.StatusInProgress && s.Status != models.StatusInProgress {
		unsatisfied, err = c.unsatisfied(ctx, specID)
		if err != nil {
			return models.Spec{}, err
		}
	}
	if err := spec.Transition(&s, to, unsatisfied); err != nil {
		return models.Spec{}, err
	}
	updated, err := c.store.UpdateSpec(ctx, s)
	if err != nil {
		return models.Spec{}, types.WrapStorage("update spec", err)
	}
	return updated, nil
}

// AddDependency records that fromID depends on toID, rejecting edges that
// would close a cycle before anything is persisted.
func (c *Coordinator) AddDependency(ctx context.Context, fromID, toID string) error {
	for _, id := range []string{fromID, toID} {
		if _, err := c.store.GetSpec(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSpecNotFound, id)
			}
			return types.WrapStorage("get spec", err)
		}
	}

	c.mu.Lock()
	err := c.graph.AddDependency(fromID, toID)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.store.AddDependency(ctx, fromID, toID); err != nil {
		c.mu.Lock()
		c.graph.RemoveDependency(fromID, toID)
		c.mu.Unlock()
		return types.WrapStorage("add dependency", err)
	}
	return nil
}

// RemoveDependency deletes a dependency edge from graph and storage.
func (c *Coordinator) RemoveDependency(ctx context.Context, fromID, toID string) error {
	if err := c.store.RemoveDependency(ctx, fromID, toID); err != nil {
		return types.WrapStorage("remove dependency", err)
	}
	c.mu.Lock()
	c.graph.RemoveDependency(fromID, toID)
	c.mu.Unlock()
	return nil
}

// Traverse returns the dependency subgraph reachable from root, bounded by
// maxDepth (negative means unbounded).
func (c *Coordinator) Traverse(root string, maxDepth int) spec.TraversalResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Traverse(root, maxDepth)
}

// unsatisfied counts root's direct dependencies not yet completed.
func (c *Coordinator) unsatisfied(ctx context.Context, specID string) (int, error) {
	c.mu.Lock()
	deps := c.graph.DependenciesOf(specID)
	c.mu.Unlock()

	count := 0
	for _, dep := range deps {
		ds, err := c.store.GetSpec(ctx, dep)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				count++
				continue
			}
			return 0, types.WrapStorage("get spec", err)
		}
		if ds.Status != models.StatusCompleted {
			count++
		}
	}
	return count, nil
}

// Start launches an execution of specID against the given backend (empty
// means the default backend). The returned execution is already persisted as
// running; streamed output is consumed through Subscribe.
func (c *Coordinator) Start(ctx context.Context, specID, backendID, prompt string) (models.Execution, error) {
	s, err := c.store.GetSpec(ctx, specID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Execution{}, fmt.Errorf("%w: %s", ErrSpecNotFound, specID)
		}
		return models.Execution{}, types.WrapStorage("get spec", err)
	}
	if s.Status.IsTerminal() {
		return models.Execution{}, fmt.Errorf("%w: %s is %s", ErrSpecTerminal, specID, s.Status)
	}

	var handle *backend.Handle
	if backendID == "" {
		handle, err = c.registry.ResolveDefault()
	} else {
		handle, err = c.registry.Get(backendID)
	}
	if err != nil {
		return models.Execution{}, fmt.Errorf("%w: %v", ErrNoBackendAvailable, err)
	}

	ex := models.Execution{
		ID:        uuid.NewString(),
		SpecID:    specID,
		BackendID: handle.ID(),
		Model:     handle.Config().Model,
		Status:    models.ExecRunning,
		StartedAt: time.Now().UTC(),
	}

	// Reserve the per-spec slot before touching storage so two concurrent
	// starts cannot both pass the check.
	c.mu.Lock()
	if active, busy := c.bySpec[specID]; busy {
		c.mu.Unlock()
		return models.Execution{}, fmt.Errorf("%w: execution %s", ErrExecutionInProgress, active)
	}
	c.bySpec[specID] = ex.ID
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.bySpec, specID)
		c.mu.Unlock()
	}

	if ex, err = c.store.CreateExecution(ctx, ex); err != nil {
		release()
		return models.Execution{}, types.WrapStorage("create execution", err)
	}
	if prompt != "" {
		msg := models.Message{
			ID:        uuid.NewString(),
			SpecID:    specID,
			Role:      models.RoleUser,
			Content:   prompt,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := c.store.CreateMessage(ctx, msg); err != nil {
			release()
			return models.Execution{}, types.WrapStorage("create message", err)
		}
	}

	mux := stream.New(c.cfg.HeartbeatInterval, stream.WithBufferSize(c.cfg.BufferSize))
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
	r := &run{execution: ex, mux: mux, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.runs[ex.ID] = r
	c.mu.Unlock()

	c.telemetry.Track("execution_started", telemetry.Properties{
		"provider": handle.Config().Provider,
	})

	c.wg.Add(1)
	go c.execute(runCtx, r, handle)
	return ex, nil
}

// Cancel stops a running execution. Cancelling an execution that has already
// finished is a no-op.
func (c *Coordinator) Cancel(executionID string) error {
	c.mu.Lock()
	r, ok := c.runs[executionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	r.cancel()
	return nil
}

// Subscribe attaches a viewer to an execution's event stream, resuming after
// the given cursor. Finished executions remain subscribable for the grace
// period.
func (c *Coordinator) Subscribe(executionID string, after stream.Cursor) (*stream.Subscription, error) {
	c.mu.Lock()
	r, ok := c.runs[executionID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return r.mux.Subscribe(after)
}

// Shutdown cancels every live execution and waits for their goroutines,
// bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, r := range c.runs {
		r.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recvOut struct {
	msg *schema.Message
	err error
}

// execute drives one backend stream to completion on its own goroutine.
func (c *Coordinator) execute(ctx context.Context, r *run, handle *backend.Handle) {
	defer c.wg.Done()
	defer close(r.done)
	defer r.cancel()

	// Storage during finalization must not be torn down by the same cancel
	// that stopped the stream.
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer storeCancel()

	history, err := c.conversation(ctx, r.execution.SpecID)
	if err != nil {
		c.finalizeFailure(storeCtx, r, "storage_error", err)
		return
	}

	sr, err := handle.Adapter().Stream(ctx, history)
	if err != nil {
		c.finalizeFailure(storeCtx, r, "provider_error", err)
		return
	}
	defer sr.Close()

	recvCh := make(chan recvOut)
	go func() {
		for {
			msg, rerr := sr.Recv()
			select {
			case recvCh <- recvOut{msg: msg, err: rerr}:
			case <-ctx.Done():
				return
			}
			if rerr != nil {
				return
			}
		}
	}()

	var content strings.Builder
	promptTokens, completionTokens := 0, 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.finalizeFailure(storeCtx, r, "timeout", fmt.Errorf("request timed out after %s", c.cfg.RequestTimeout))
			} else {
				c.finalizeCancelled(storeCtx, r, promptTokens, completionTokens)
			}
			return

		case out := <-recvCh:
			if errors.Is(out.err, io.EOF) {
				c.finalizeSuccess(storeCtx, r, content.String(), promptTokens, completionTokens)
				return
			}
			if out.err != nil {
				c.finalizeFailure(storeCtx, r, "provider_error", out.err)
				return
			}
			chunk := out.msg
			if chunk.Content != "" {
				content.WriteString(chunk.Content)
				_, _ = r.mux.Publish(stream.EventToken, stream.TokenData{Text: chunk.Content})
			}
			if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
				promptTokens = chunk.ResponseMeta.Usage.PromptTokens
				completionTokens = chunk.ResponseMeta.Usage.CompletionTokens
				_, _ = r.mux.Publish(stream.EventProgress, stream.ProgressData{
					PromptTokens:     promptTokens,
					CompletionTokens: completionTokens,
				})
			}
		}
	}
}

// conversation loads the spec's message history as chat-model input.
func (c *Coordinator) conversation(ctx context.Context, specID string) ([]*schema.Message, error) {
	msgs, err := c.store.ListMessages(ctx, specID)
	if err != nil {
		return nil, types.WrapStorage("list messages", err)
	}
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		case models.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out, nil
}

func (c *Coordinator) finalizeSuccess(ctx context.Context, r *run, content string, promptTokens, completionTokens int) {
	msg := models.Message{
		ID:         uuid.NewString(),
		SpecID:     r.execution.SpecID,
		Role:       models.RoleAssistant,
		Content:    content,
		TokenCount: completionTokens,
		Model:      r.execution.Model,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := c.store.CreateMessage(ctx, msg)
	if err != nil {
		c.finalizeFailure(ctx, r, "storage_error", types.WrapStorage("create message", err))
		return
	}

	// Finalization is all-or-nothing: a change that cannot be persisted fails
	// the execution rather than leaving it completed with missing changes.
	for _, fc := range ParseFileChanges(created.ID, content) {
		persisted, err := c.store.CreateFileChange(ctx, fc)
		if err != nil {
			c.finalizeFailure(ctx, r, "storage_error", types.WrapStorage("create file change", err))
			return
		}
		_, _ = r.mux.Publish(stream.EventFileChange, persisted)
	}

	now := time.Now().UTC()
	r.execution.Status = models.ExecCompleted
	r.execution.PromptTokens = promptTokens
	r.execution.CompletionTokens = completionTokens
	r.execution.CompletedAt = &now
	r.execution.DurationMs = now.Sub(r.execution.StartedAt).Milliseconds()
	if _, err := c.store.UpdateExecution(ctx, r.execution); err != nil {
		c.finalizeFailure(ctx, r, "storage_error", types.WrapStorage("update execution", err))
		return
	}

	c.advanceSpec(ctx, r.execution.SpecID)

	r.mux.Close(stream.EventComplete, stream.CompleteData{
		ExecutionID:      r.execution.ID,
		MessageID:        created.ID,
		Status:           string(models.ExecCompleted),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		DurationMs:       r.execution.DurationMs,
	})
	c.telemetry.Track("execution_completed", telemetry.Properties{
		"duration_ms":       r.execution.DurationMs,
		"completion_tokens": completionTokens,
	})
	c.finishRun(r)
}

func (c *Coordinator) finalizeFailure(ctx context.Context, r *run, kind string, cause error) {
	now := time.Now().UTC()
	r.execution.Status = models.ExecFailed
	r.execution.Error = cause.Error()
	r.execution.CompletedAt = &now
	r.execution.DurationMs = now.Sub(r.execution.StartedAt).Milliseconds()
	if _, err := c.store.UpdateExecution(ctx, r.execution); err != nil {
		c.logger.Error("persist failed execution", "execution", r.execution.ID, "error", err)
	}

	c.logger.Warn("execution failed",
		"execution", r.execution.ID, "spec", r.execution.SpecID, "kind", kind, "error", cause)
	r.mux.Close(stream.EventError, stream.ErrorData{
		ExecutionID: r.execution.ID,
		SpecID:      r.execution.SpecID,
		Kind:        kind,
		Message:     cause.Error(),
	})
	c.telemetry.Track("execution_failed", telemetry.Properties{"kind": kind})
	c.finishRun(r)
}

func (c *Coordinator) finalizeCancelled(ctx context.Context, r *run, promptTokens, completionTokens int) {
	now := time.Now().UTC()
	r.execution.Status = models.ExecCancelled
	r.execution.PromptTokens = promptTokens
	r.execution.CompletionTokens = completionTokens
	r.execution.CompletedAt = &now
	r.execution.DurationMs = now.Sub(r.execution.StartedAt).Milliseconds()
	if _, err := c.store.UpdateExecution(ctx, r.execution); err != nil {
		c.logger.Error("persist cancelled execution", "execution", r.execution.ID, "error", err)
	}

	r.mux.Close(stream.EventComplete, stream.CompleteData{
		ExecutionID:      r.execution.ID,
		Status:           string(models.ExecCancelled),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		DurationMs:       r.execution.DurationMs,
	})
	c.finishRun(r)
}

// advanceSpec moves a planned spec into in-progress after its first
// successful execution. Transition refusals are logged, never fatal.
func (c *Coordinator) advanceSpec(ctx context.Context, specID string) {
	s, err := c.store.GetSpec(ctx, specID)
	if err != nil {
		c.logger.Error("reload spec after execution", "spec", specID, "error", err)
		return
	}
	if s.Status != models.StatusPlanned {
		return
	}
	unsatisfied, err := c.unsatisfied(ctx, specID)
	if err != nil {
		c.logger.Error("count unsatisfied dependencies", "spec", specID, "error", err)
		return
	}
	if err := spec.Transition(&s, models.StatusInProgress, unsatisfied); err != nil {
		c.logger.Warn("spec not advanced", "spec", specID, "error", err)
		return
	}
	if _, err := c.store.UpdateSpec(ctx, s); err != nil {
		c.logger.Error("persist spec advance", "spec", specID, "error", err)
	}
}

// finishRun frees the per-spec slot immediately and discards the event
// buffer after the grace period.
func (c *Coordinator) finishRun(r *run) {
	c.mu.Lock()
	delete(c.bySpec, r.execution.SpecID)
	c.mu.Unlock()

	id := r.execution.ID
	time.AfterFunc(c.cfg.GracePeriod, func() {
		c.mu.Lock()
		delete(c.runs, id)
		c.mu.Unlock()
	})
}
