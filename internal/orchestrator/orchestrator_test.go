package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/mq"
	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/repo"
	"github.com/kaushiksamanta/krama/internal/substrate"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// calls записывает порядок вызовов handlers.
type calls struct {
	mu  sync.Mutex
	ids []string
}

func (c *calls) add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func testRegistry(t *testing.T, rec *calls, hooks map[string]func()) *node.Registry {
	t.Helper()
	r := node.NewRegistry()
	r.MustRegister(node.HandlerFunc{
		Info: node.Meta{Name: "echo", Version: "1.0.0"},
		Fn: func(ctx context.Context, input any, nctx *node.Context) (any, error) {
			rec.add(nctx.StepID)
			if hook := hooks[nctx.StepID]; hook != nil {
				hook()
			}
			return input, nil
		},
	})
	r.MustRegister(node.HandlerFunc{
		Info: node.Meta{Name: "fail", Version: "1.0.0"},
		Fn: func(ctx context.Context, input any, nctx *node.Context) (any, error) {
			rec.add(nctx.StepID)
			return nil, node.NewError(node.KindExecution, "step %s exploded", nctx.StepID)
		},
	})
	return r
}

func newWorkflow(t *testing.T, steps []domain.StepDef, inputs map[string]any, reg *node.Registry, journal Journal, events EventPublisher) *Workflow {
	t.Helper()
	w, err := NewWorkflow(WorkflowConfig{
		Definition: &domain.WorkflowDef{ID: "wf", Name: "test", Steps: steps},
		Inputs:     inputs,
		Invoker:    substrate.NewLocal(reg, discard),
		Registry:   reg,
		Journal:    journal,
		Events:     events,
		Logger:     discard,
	})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}
	return w
}

func TestWorkflow_FailurePropagatesAsSkip(t *testing.T) {
	rec := &calls{}
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "fail"},
		{ID: "b", HandlerName: "echo", DependsOn: []string{"a"}},
		{ID: "c", HandlerName: "echo", DependsOn: []string{"b"}},
		{ID: "d", HandlerName: "echo"},
	}
	w := newWorkflow(t, steps, nil, testRegistry(t, rec, nil), nil, nil)

	results, err := w.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if results["a"].Status != domain.StepStatusFailed {
		t.Fatalf("a = %s, want failed", results["a"].Status)
	}
	if !strings.Contains(results["a"].Error, "exploded") {
		t.Errorf("a error = %q", results["a"].Error)
	}
	for _, id := range []string{"b", "c"} {
		res := results[id]
		if res.Status != domain.StepStatusSkipped {
			t.Fatalf("%s = %s, want skipped", id, res.Status)
		}
		if !strings.Contains(res.Reason, `"a"`) || !strings.Contains(res.Reason, "failed") {
			t.Errorf("%s reason = %q, want it to name a and failed", id, res.Reason)
		}
	}
	if results["d"].Status != domain.StepStatusCompleted {
		t.Errorf("independent step d = %s, want completed", results["d"].Status)
	}
	if w.Status() != domain.RunStatusCompleted {
		t.Errorf("run status = %s, want COMPLETED", w.Status())
	}
	if got := rec.list(); strings.Join(got, ",") != "a,d" {
		t.Errorf("handlers called for %v, want [a d]", got)
	}
}

func TestWorkflow_OrderAndTemplating(t *testing.T) {
	rec := &calls{}
	steps := []domain.StepDef{
		{ID: "fetch", HandlerName: "echo", Input: map[string]any{"user": "{{ inputs.user }}"}},
		{ID: "left", HandlerName: "echo", DependsOn: []string{"fetch"}, Input: "{{ step.fetch.result.user }}"},
		{ID: "right", HandlerName: "echo", DependsOn: []string{"fetch"}, Input: "hi {{ steps.fetch.result.user }}"},
		{ID: "join", HandlerName: "echo", DependsOn: []string{"right", "left"}, Input: map[string]any{
			"l": "{{ step.left.result }}",
			"r": "{{ step.right.result }}",
		}},
	}
	w := newWorkflow(t, steps, map[string]any{"user": "ann"}, testRegistry(t, rec, nil), nil, nil)

	results, err := w.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := strings.Join(rec.list(), ","); got != "fetch,left,right,join" {
		t.Errorf("order = %s, want fetch,left,right,join", got)
	}
	join := results["join"].Output.(map[string]any)
	if join["l"] != "ann" || join["r"] != "hi ann" {
		t.Errorf("join output = %v", join)
	}
}

func TestWorkflow_CancelStopsBeforeNextStep(t *testing.T) {
	rec := &calls{}
	var w *Workflow
	hooks := map[string]func(){"b": func() { w.Cancel() }}
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "echo"},
		{ID: "b", HandlerName: "echo", DependsOn: []string{"a"}},
		{ID: "c", HandlerName: "echo", DependsOn: []string{"b"}},
	}
	w = newWorkflow(t, steps, nil, testRegistry(t, rec, hooks), nil, nil)

	results, err := w.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if results["b"] == nil || results["b"].Status != domain.StepStatusCompleted {
		t.Fatalf("dispatched step b should finish, got %+v", results["b"])
	}
	if _, ok := results["c"]; ok {
		t.Errorf("step c should have no result after cancel, got %+v", results["c"])
	}
	if w.Status() != domain.RunStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", w.Status())
	}

	// Повторная отмена ничего не меняет
	w.Cancel()
	if w.Status() != domain.RunStatusCancelled {
		t.Errorf("status changed after second cancel: %s", w.Status())
	}
}

func TestWorkflow_ContextCancelActsAsCancel(t *testing.T) {
	rec := &calls{}
	ctx, cancel := context.WithCancel(context.Background())
	hooks := map[string]func(){"a": cancel}
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "echo"},
		{ID: "b", HandlerName: "echo"},
	}
	w := newWorkflow(t, steps, nil, testRegistry(t, rec, hooks), nil, nil)

	results, _ := w.Start(ctx)
	if _, ok := results["b"]; ok {
		t.Errorf("b should be absent after ctx cancel")
	}
	if w.Status() != domain.RunStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", w.Status())
	}
}

func TestWorkflow_Signal(t *testing.T) {
	steps := []domain.StepDef{
		{ID: "approve", Kind: domain.KindSignal},
		{ID: "ship", HandlerName: "echo", DependsOn: []string{"approve"}, Input: "{{ step.approve.result.by }}"},
	}

	t.Run("delivered before wait", func(t *testing.T) {
		w := newWorkflow(t, steps, nil, testRegistry(t, &calls{}, nil), nil, nil)
		payload := map[string]any{"by": "ops"}

		if err := w.Deliver("approve", payload); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if err := w.Deliver("approve", map[string]any{"by": "late"}); err != nil {
			t.Fatalf("duplicate Deliver: %v", err)
		}

		results, _ := w.Start(context.Background())
		if results["approve"].Status != domain.StepStatusCompleted {
			t.Fatalf("approve = %s", results["approve"].Status)
		}
		if results["approve"].Output.(map[string]any)["by"] != "ops" {
			t.Errorf("first delivery should win, got %v", results["approve"].Output)
		}
		if results["ship"].Output != "ops" {
			t.Errorf("ship output = %v", results["ship"].Output)
		}
	})

	t.Run("delivered while waiting", func(t *testing.T) {
		w := newWorkflow(t, steps, nil, testRegistry(t, &calls{}, nil), nil, nil)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = w.Deliver("approve", map[string]any{"by": "async"})
		}()

		results, _ := w.Start(context.Background())
		if results["ship"].Output != "async" {
			t.Errorf("ship output = %v", results["ship"].Output)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		w := newWorkflow(t, steps, nil, testRegistry(t, &calls{}, nil), nil, nil)

		go func() {
			time.Sleep(20 * time.Millisecond)
			w.Cancel()
		}()

		results, _ := w.Start(context.Background())
		if results["approve"].Status != domain.StepStatusSkipped {
			t.Fatalf("approve = %s, want skipped", results["approve"].Status)
		}
		if _, ok := results["ship"]; ok {
			t.Errorf("ship should be absent after cancel")
		}
		if w.Status() != domain.RunStatusCancelled {
			t.Errorf("status = %s", w.Status())
		}
	})

	t.Run("unknown step", func(t *testing.T) {
		w := newWorkflow(t, steps, nil, testRegistry(t, &calls{}, nil), nil, nil)
		if err := w.Deliver("ghost", 1); !errors.Is(err, ErrStepNotFound) {
			t.Errorf("err = %v, want ErrStepNotFound", err)
		}
	})
}

func TestWorkflow_CodeStepTimeout(t *testing.T) {
	steps := []domain.StepDef{
		{ID: "spin", Kind: domain.KindCode, InlineScript: "while (true) {}",
			Timeout: &domain.TimeoutDef{StartToClose: domain.Duration(30 * time.Millisecond)}},
		{ID: "after", HandlerName: "echo", DependsOn: []string{"spin"}},
	}
	w := newWorkflow(t, steps, nil, testRegistry(t, &calls{}, nil), nil, nil)

	results, _ := w.Start(context.Background())
	if results["spin"].Status != domain.StepStatusFailed || results["spin"].ErrorKind != string(node.KindTimeout) {
		t.Fatalf("spin = %+v", results["spin"])
	}
	if results["after"].Status != domain.StepStatusSkipped {
		t.Errorf("after = %s, want skipped", results["after"].Status)
	}
}

func TestWorkflow_StartTwice(t *testing.T) {
	w := newWorkflow(t, []domain.StepDef{{ID: "a", HandlerName: "echo"}}, nil, testRegistry(t, &calls{}, nil), nil, nil)

	if _, err := w.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := w.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestNewWorkflow_GraphErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps []domain.StepDef
		want  error
	}{
		{"duplicate", []domain.StepDef{{ID: "a", HandlerName: "echo"}, {ID: "a", HandlerName: "echo"}}, engine.ErrDuplicateStepID},
		{"unknown dependency", []domain.StepDef{{ID: "a", HandlerName: "echo", DependsOn: []string{"x"}}}, engine.ErrMissingDependency},
		{"cycle", []domain.StepDef{
			{ID: "a", HandlerName: "echo", DependsOn: []string{"b"}},
			{ID: "b", HandlerName: "echo", DependsOn: []string{"a"}},
		}, engine.ErrCyclicDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorkflow(WorkflowConfig{
				Definition: &domain.WorkflowDef{ID: "wf", Steps: tt.steps},
				Invoker:    substrate.NewLocal(node.NewRegistry(), discard),
				Logger:     discard,
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

type fakeEvents struct {
	mu    sync.Mutex
	steps []string
	runs  []domain.RunStatus
}

func (f *fakeEvents) PublishStepFinished(_ context.Context, _ uuid.UUID, res *domain.StepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, res.StepID+":"+string(res.Status))
	return nil
}

func (f *fakeEvents) PublishRunFinished(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run.Status)
	return nil
}

func TestWorkflow_JournalAndEvents(t *testing.T) {
	journal := repo.NewMemoryJournal()
	events := &fakeEvents{}
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "echo", Input: 1},
		{ID: "b", HandlerName: "echo", DependsOn: []string{"a"}, Condition: "false"},
	}
	w := newWorkflow(t, steps, nil, testRegistry(t, &calls{}, nil), journal, events)

	if _, err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stored, err := journal.GetRun(context.Background(), w.ID())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != domain.RunStatusCompleted || len(stored.Results) != 2 {
		t.Errorf("stored run = %s with %d results", stored.Status, len(stored.Results))
	}
	if strings.Join(events.steps, ",") != "a:completed,b:skipped" {
		t.Errorf("step events = %v", events.steps)
	}
	if len(events.runs) != 1 || events.runs[0] != domain.RunStatusCompleted {
		t.Errorf("run events = %v", events.runs)
	}
}

func TestRuntime_LaunchDeliverGet(t *testing.T) {
	reg := testRegistry(t, &calls{}, nil)
	rt := New(Config{Registry: reg, Logger: discard})
	def := &domain.WorkflowDef{ID: "approval", Steps: []domain.StepDef{
		{ID: "wait", Kind: domain.KindSignal},
		{ID: "done", HandlerName: "echo", DependsOn: []string{"wait"}, Input: "{{ step.wait.result }}"},
	}}

	w, err := rt.Launch(def, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := rt.Deliver(w.ID(), "wait", "yes"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	// removeActiveRun выполняется сразу после Done
	deadline := time.Now().Add(time.Second)
	for rt.ActiveRunsCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	run, err := rt.Get(context.Background(), w.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != domain.RunStatusCompleted || run.Results["done"].Output != "yes" {
		t.Errorf("run = %s, done = %+v", run.Status, run.Results["done"])
	}

	if err := rt.Cancel(w.ID()); !errors.Is(err, ErrRunNotActive) {
		t.Errorf("Cancel finished run err = %v, want ErrRunNotActive", err)
	}
	if _, err := rt.Get(context.Background(), uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get unknown err = %v, want ErrRunNotFound", err)
	}

	runs, err := rt.List(context.Background(), repo.RunFilter{WorkflowID: "approval"})
	if err != nil || len(runs) != 1 {
		t.Errorf("List = %d runs, err %v", len(runs), err)
	}
}

func TestRuntime_StopCancelsActiveRuns(t *testing.T) {
	rt := New(Config{Registry: node.NewRegistry(), Logger: discard})
	def := &domain.WorkflowDef{ID: "wf", Steps: []domain.StepDef{{ID: "wait", Kind: domain.KindSignal}}}

	w, err := rt.Launch(def, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.Status() != domain.RunStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", w.Status())
	}
	if _, err := rt.Launch(def, nil); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("Launch after Stop err = %v, want ErrOrchestratorStopped", err)
	}
}

func TestRuntime_HandleControl(t *testing.T) {
	rt := New(Config{Registry: node.NewRegistry(), Logger: discard})
	def := &domain.WorkflowDef{ID: "wf", Steps: []domain.StepDef{{ID: "wait", Kind: domain.KindSignal}}}

	w, err := rt.Launch(def, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name       string
		msg        *mq.Message
		wantReject bool
		wantErr    bool
	}{
		{"unknown step", mq.NewMessage(mq.MessageTypeRunSignal, mq.SignalPayload{RunID: w.ID(), StepID: "ghost"}), true, true},
		{"inactive run", mq.NewMessage(mq.MessageTypeRunCancel, mq.CancelPayload{RunID: uuid.New()}), false, false},
		{"unknown type", mq.NewMessage("run.pause", nil), true, true},
		{"bad payload", &mq.Message{Type: mq.MessageTypeRunSignal, Payload: "nope"}, true, true},
		{"signal", mq.NewMessage(mq.MessageTypeRunSignal, mq.SignalPayload{RunID: w.ID(), StepID: "wait", Payload: 7}), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rt.HandleControl(ctx, tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, mq.ErrReject) != tt.wantReject {
				t.Errorf("reject = %v, want %v (err %v)", errors.Is(err, mq.ErrReject), tt.wantReject, err)
			}
		})
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal via control message did not finish the run")
	}
	if got := w.Snapshot().Results["wait"].Output; got != float64(7) {
		t.Errorf("wait output = %v (%T), want 7 from JSON", got, got)
	}
}

func TestRunState_RecordOnce(t *testing.T) {
	dag, err := engine.BuildDAG([]domain.StepDef{{ID: "a", HandlerName: "echo"}})
	if err != nil {
		t.Fatal(err)
	}
	s := NewRunState(domain.NewRun(&domain.WorkflowDef{ID: "wf"}, nil), dag)

	if err := s.Record(domain.NewCompleted("a", 1, 1)); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := s.Record(domain.NewFailed("a", "ExecutionError", "x", 1)); !errors.Is(err, ErrResultExists) {
		t.Errorf("second Record err = %v, want ErrResultExists", err)
	}

	stats := s.Stats()
	if stats.TotalSteps != 1 || stats.CompletedSteps != 1 || stats.PendingSteps != 0 {
		t.Errorf("stats = %+v", stats)
	}

	if !s.Cancel() || s.Cancel() {
		t.Error("Cancel should report true only the first time")
	}
	if !s.IsCancelled() {
		t.Error("IsCancelled = false after Cancel")
	}
}
