package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/josephgoksu/specwing/internal/backend"
	"github.com/josephgoksu/specwing/internal/spec"
	"github.com/josephgoksu/specwing/internal/stream"
	"github.com/josephgoksu/specwing/models"
	"github.com/josephgoksu/specwing/store"
	"github.com/josephgoksu/specwing/types"
)

// fakeAdapter scripts the backend stream for coordinator tests.
type fakeAdapter struct {
	streamFn func(ctx context.Context) (*schema.StreamReader[*schema.Message], error)
}

func (f *fakeAdapter) Stream(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return f.streamFn(ctx)
}

func (f *fakeAdapter) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("ok", nil), nil
}

func (f *fakeAdapter) HealthCheck(context.Context) backend.HealthReport {
	return backend.HealthReport{Status: backend.StatusHealthy}
}

func (f *fakeAdapter) ListModels(context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (f *fakeAdapter) Capabilities() models.CapabilitySet {
	return models.CapabilitySet{models.CapChat, models.CapStreaming}
}

func arrayStream(chunks ...*schema.Message) func(context.Context) (*schema.StreamReader[*schema.Message], error) {
	return func(context.Context) (*schema.StreamReader[*schema.Message], error) {
		return schema.StreamReaderFromArray(chunks), nil
	}
}

func usageChunk(prompt, completion int) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: prompt, CompletionTokens: completion},
		},
	}
}

// faultyStore injects failures into selected storage calls.
type faultyStore struct {
	store.Store
	createExecutionErr  error
	createFileChangeErr error
}

func (f *faultyStore) CreateExecution(ctx context.Context, ex models.Execution) (models.Execution, error) {
	if f.createExecutionErr != nil {
		return models.Execution{}, f.createExecutionErr
	}
	return f.Store.CreateExecution(ctx, ex)
}

func (f *faultyStore) CreateFileChange(ctx context.Context, fc models.FileChange) (models.FileChange, error) {
	if f.createFileChangeErr != nil {
		return models.FileChange{}, f.createFileChangeErr
	}
	return f.Store.CreateFileChange(ctx, fc)
}

type harness struct {
	coord *Coordinator
	store store.Store
	spec  models.Spec
}

func newHarness(t *testing.T, adapter backend.Adapter) *harness {
	return newHarnessStore(t, adapter, func(s store.Store) store.Store { return s })
}

// newHarnessStore lets a test wrap the store, e.g. to inject faults.
func newHarnessStore(t *testing.T, adapter backend.Adapter, wrap func(store.Store) store.Store) *harness {
	t.Helper()
	sqlite, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	st := wrap(sqlite)

	reg := backend.NewRegistry(backend.WithFactory(func(context.Context, models.BackendConfig) (backend.Adapter, error) {
		return adapter, nil
	}))
	_, err = reg.Register(context.Background(), models.BackendConfig{
		ID: "b1", Name: "b1", Provider: backend.ProviderOllama, Model: "llama3.2", IsDefault: true,
	})
	if err != nil {
		t.Fatalf("register backend: %v", err)
	}

	coord, err := New(context.Background(), st, reg, WithConfig(Config{
		RequestTimeout: 30 * time.Second,
		GracePeriod:    5 * time.Second,
	}))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	s, err := coord.CreateSpec(context.Background(), "stream the plan", "")
	if err != nil {
		t.Fatalf("create spec: %v", err)
	}
	return &harness{coord: coord, store: st, spec: s}
}

// collect drains a subscription until its channel closes.
func collect(t *testing.T, sub *stream.Subscription) []stream.Event {
	t.Helper()
	var events []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out draining subscription after %d events", len(events))
		}
	}
}

func TestStart_StreamsAndPersists(t *testing.T) {
	adapter := &fakeAdapter{streamFn: arrayStream(
		schema.AssistantMessage("Hello", nil),
		schema.AssistantMessage(" world", nil),
		usageChunk(12, 5),
	)}
	h := newHarness(t, adapter)
	ctx := context.Background()

	ex, err := h.coord.Start(ctx, h.spec.ID, "", "say hello")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, err := h.coord.Subscribe(ex.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	events := collect(t, sub)

	var tokens []string
	var complete *stream.CompleteData
	for _, ev := range events {
		switch ev.Type {
		case stream.EventToken:
			tokens = append(tokens, ev.Data.(stream.TokenData).Text)
		case stream.EventComplete:
			d := ev.Data.(stream.CompleteData)
			complete = &d
		}
	}
	if len(tokens) != 2 || tokens[0] != "Hello" || tokens[1] != " world" {
		t.Errorf("tokens = %v", tokens)
	}
	if complete == nil {
		t.Fatal("no complete event")
	}
	if complete.Status != string(models.ExecCompleted) || complete.CompletionTokens != 5 {
		t.Errorf("complete = %+v", complete)
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("event ids not increasing: %d then %d", events[i-1].ID, events[i].ID)
		}
	}

	stored, err := h.store.GetExecution(ctx, ex.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != models.ExecCompleted || stored.PromptTokens != 12 || stored.CompletionTokens != 5 {
		t.Errorf("stored execution = %+v", stored)
	}

	msgs, err := h.store.ListMessages(ctx, h.spec.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want prompt and reply", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != "Hello world" {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}

	s, _ := h.store.GetSpec(ctx, h.spec.ID)
	if s.Status != models.StatusInProgress {
		t.Errorf("spec status after execution = %s, want in-progress", s.Status)
	}
}

func TestSubscribe_ResumesAfterCursor(t *testing.T) {
	adapter := &fakeAdapter{streamFn: arrayStream(
		schema.AssistantMessage("a", nil),
		schema.AssistantMessage("b", nil),
		schema.AssistantMessage("c", nil),
	)}
	h := newHarness(t, adapter)

	ex, err := h.coord.Start(context.Background(), h.spec.ID, "b1", "go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := h.coord.Subscribe(ex.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	all := collect(t, first)
	if len(all) < 4 {
		t.Fatalf("expected 3 tokens and a terminal, got %d events", len(all))
	}

	// Resume after the second event; only later events replay, in order.
	resumed, err := h.coord.Subscribe(ex.ID, stream.Cursor(all[1].ID))
	if err != nil {
		t.Fatalf("resume Subscribe: %v", err)
	}
	tail := collect(t, resumed)
	if len(tail) != len(all)-2 {
		t.Fatalf("tail = %d events, want %d", len(tail), len(all)-2)
	}
	for i, ev := range tail {
		if ev.ID != all[i+2].ID {
			t.Errorf("tail[%d].ID = %d, want %d", i, ev.ID, all[i+2].ID)
		}
	}
}

func TestStart_ProviderErrorFailsExecution(t *testing.T) {
	adapter := &fakeAdapter{streamFn: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](4)
		go func() {
			sw.Send(schema.AssistantMessage("partial", nil), nil)
			sw.Send(nil, errors.New("upstream 500"))
			sw.Close()
		}()
		return sr, nil
	}}
	h := newHarness(t, adapter)
	ctx := context.Background()

	ex, err := h.coord.Start(ctx, h.spec.ID, "", "go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, err := h.coord.Subscribe(ex.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	events := collect(t, sub)

	last := events[len(events)-1]
	if last.Type != stream.EventError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	ed := last.Data.(stream.ErrorData)
	if ed.Kind != "provider_error" || ed.ExecutionID != ex.ID {
		t.Errorf("error data = %+v", ed)
	}

	stored, _ := h.store.GetExecution(ctx, ex.ID)
	if stored.Status != models.ExecFailed || stored.Error == "" {
		t.Errorf("stored execution = %+v", stored)
	}

	s, _ := h.store.GetSpec(ctx, h.spec.ID)
	if s.Status != models.StatusPlanned {
		t.Errorf("failed execution advanced spec to %s", s.Status)
	}
}

func TestCancel_StopsExecution(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](4)
	adapter := &fakeAdapter{streamFn: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
		return sr, nil
	}}
	h := newHarness(t, adapter)
	ctx := context.Background()

	ex, err := h.coord.Start(ctx, h.spec.ID, "", "go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, err := h.coord.Subscribe(ex.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sw.Send(schema.AssistantMessage("working", nil), nil)
	select {
	case ev := <-sub.Events():
		if ev.Type != stream.EventToken {
			t.Fatalf("first event = %s", ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no token before cancel")
	}

	if err := h.coord.Cancel(ex.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	events := collect(t, sub)
	last := events[len(events)-1]
	if last.Type != stream.EventComplete {
		t.Fatalf("terminal event = %s, want complete", last.Type)
	}
	if d := last.Data.(stream.CompleteData); d.Status != string(models.ExecCancelled) {
		t.Errorf("terminal status = %s, want cancelled", d.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, _ := h.store.GetExecution(ctx, ex.ID)
		if stored.Status == models.ExecCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution status = %s, want cancelled", stored.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	sw.Close()
}

func TestStart_SingleFlightPerSpec(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](1)
	defer sw.Close()
	adapter := &fakeAdapter{streamFn: func(context.Context) (*schema.StreamReader[*schema.Message], error) {
		return sr, nil
	}}
	h := newHarness(t, adapter)
	ctx := context.Background()

	ex, err := h.coord.Start(ctx, h.spec.ID, "", "go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.coord.Start(ctx, h.spec.ID, "", "again"); !errors.Is(err, ErrExecutionInProgress) {
		t.Errorf("second Start = %v, want ErrExecutionInProgress", err)
	}
	_ = h.coord.Cancel(ex.ID)
}

func TestStart_Rejections(t *testing.T) {
	adapter := &fakeAdapter{streamFn: arrayStream(schema.AssistantMessage("x", nil))}
	h := newHarness(t, adapter)
	ctx := context.Background()

	if _, err := h.coord.Start(ctx, "5d3f9ef7-9e4a-4b6e-8b13-000000000000", "", "go"); !errors.Is(err, ErrSpecNotFound) {
		t.Errorf("unknown spec = %v, want ErrSpecNotFound", err)
	}
	if _, err := h.coord.Start(ctx, h.spec.ID, "ghost", "go"); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("unknown backend = %v, want ErrNoBackendAvailable", err)
	}

	for _, status := range []models.SpecStatus{models.StatusInProgress, models.StatusInReview, models.StatusCompleted} {
		if _, err := h.coord.SetStatus(ctx, h.spec.ID, status); err != nil {
			t.Fatalf("SetStatus(%s): %v", status, err)
		}
	}
	if _, err := h.coord.Start(ctx, h.spec.ID, "", "go"); !errors.Is(err, ErrSpecTerminal) {
		t.Errorf("terminal spec = %v, want ErrSpecTerminal", err)
	}
}

func TestSetStatus_DependencyGate(t *testing.T) {
	adapter := &fakeAdapter{streamFn: arrayStream(schema.AssistantMessage("x", nil))}
	h := newHarness(t, adapter)
	ctx := context.Background()

	dep, err := h.coord.CreateSpec(ctx, "upstream work", "")
	if err != nil {
		t.Fatalf("CreateSpec: %v", err)
	}
	if err := h.coord.AddDependency(ctx, h.spec.ID, dep.ID); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	_, err = h.coord.SetStatus(ctx, h.spec.ID, models.StatusInProgress)
	var dnse *spec.DependenciesNotSatisfiedError
	if !errors.As(err, &dnse) {
		t.Fatalf("gated SetStatus = %v, want DependenciesNotSatisfiedError", err)
	}

	for _, status := range []models.SpecStatus{models.StatusInProgress, models.StatusInReview, models.StatusCompleted} {
		if _, err := h.coord.SetStatus(ctx, dep.ID, status); err != nil {
			t.Fatalf("advance dependency to %s: %v", status, err)
		}
	}
	updated, err := h.coord.SetStatus(ctx, h.spec.ID, models.StatusInProgress)
	if err != nil {
		t.Fatalf("SetStatus after deps complete: %v", err)
	}
	if updated.Status != models.StatusInProgress || updated.Version != h.spec.Version+1 {
		t.Errorf("updated = status %s version %d", updated.Status, updated.Version)
	}
}

func TestAddDependency_CycleRejected(t *testing.T) {
	adapter := &fakeAdapter{streamFn: arrayStream(schema.AssistantMessage("x", nil))}
	h := newHarness(t, adapter)
	ctx := context.Background()

	other, _ := h.coord.CreateSpec(ctx, "other work", "")
	if err := h.coord.AddDependency(ctx, h.spec.ID, other.ID); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	var cde *spec.CycleDetectedError
	if err := h.coord.AddDependency(ctx, other.ID, h.spec.ID); !errors.As(err, &cde) {
		t.Fatalf("reverse edge = %v, want CycleDetectedError", err)
	}

	result := h.coord.Traverse(h.spec.ID, -1)
	if len(result.Nodes) != 2 || len(result.Edges) != 1 {
		t.Errorf("traversal = %+v", result)
	}
}

func TestFileChanges_ParsedAndPersisted(t *testing.T) {
	reply := "Here you go.\n```file:pkg/widget.go\npackage widget\n\nfunc New() {}\n```\ndone"
	adapter := &fakeAdapter{streamFn: arrayStream(schema.AssistantMessage(reply, nil))}
	h := newHarness(t, adapter)
	ctx := context.Background()

	ex, err := h.coord.Start(ctx, h.spec.ID, "", "make a widget")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, _ := h.coord.Subscribe(ex.ID, 0)
	events := collect(t, sub)

	var fcEvents int
	for _, ev := range events {
		if ev.Type == stream.EventFileChange {
			fcEvents++
		}
	}
	if fcEvents != 1 {
		t.Errorf("file_change events = %d, want 1", fcEvents)
	}

	msgs, _ := h.store.ListMessages(ctx, h.spec.ID)
	assistant := msgs[len(msgs)-1]
	changes, err := h.store.ListFileChanges(ctx, assistant.ID)
	if err != nil {
		t.Fatalf("ListFileChanges: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	fc := changes[0]
	if fc.FilePath != "pkg/widget.go" || fc.Status != models.ChangePending {
		t.Errorf("change = %+v", fc)
	}
	if fc.NewContent != "package widget\n\nfunc New() {}" {
		t.Errorf("content = %q", fc.NewContent)
	}
}

func TestFileChangePersistFailureFailsExecution(t *testing.T) {
	reply := "```file:pkg/widget.go\npackage widget\n```"
	adapter := &fakeAdapter{streamFn: arrayStream(schema.AssistantMessage(reply, nil))}
	fs := &faultyStore{createFileChangeErr: errors.New("disk full")}
	h := newHarnessStore(t, adapter, func(s store.Store) store.Store {
		fs.Store = s
		return fs
	})
	ctx := context.Background()

	ex, err := h.coord.Start(ctx, h.spec.ID, "", "make a widget")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, err := h.coord.Subscribe(ex.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	events := collect(t, sub)

	last := events[len(events)-1]
	if last.Type != stream.EventError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	if ed := last.Data.(stream.ErrorData); ed.Kind != "storage_error" {
		t.Errorf("error data = %+v", ed)
	}

	stored, err := h.store.GetExecution(ctx, ex.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != models.ExecFailed || stored.Error == "" {
		t.Errorf("stored execution = %+v", stored)
	}

	s, _ := h.store.GetSpec(ctx, h.spec.ID)
	if s.Status != models.StatusPlanned {
		t.Errorf("failed execution advanced spec to %s", s.Status)
	}
}

func TestStart_StorageFailureSurfacesTyped(t *testing.T) {
	adapter := &fakeAdapter{streamFn: arrayStream(schema.AssistantMessage("x", nil))}
	fs := &faultyStore{createExecutionErr: errors.New("database is locked")}
	h := newHarnessStore(t, adapter, func(s store.Store) store.Store {
		fs.Store = s
		return fs
	})
	ctx := context.Background()

	_, err := h.coord.Start(ctx, h.spec.ID, "", "go")
	var se *types.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Start error = %v, want StorageError", err)
	}
	if se.Op != "create execution" {
		t.Errorf("op = %q, want create execution", se.Op)
	}

	// The failed start must release the spec's slot so a retry can run.
	fs.createExecutionErr = nil
	ex, err := h.coord.Start(ctx, h.spec.ID, "", "go")
	if err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	sub, _ := h.coord.Subscribe(ex.ID, 0)
	collect(t, sub)
}
