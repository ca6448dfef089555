package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/substrate"
)

type fakeInvoker struct {
	mu       sync.Mutex
	requests []*substrate.Request
	fn       func(req *substrate.Request) (*substrate.Result, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req *substrate.Request) (*substrate.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.fn == nil {
		return &substrate.Result{Output: req.Input, Attempts: 1}, nil
	}
	return f.fn(req)
}

type recorder struct {
	kinds   []domain.StepKind
	results []*domain.StepResult
}

func (r *recorder) ObserveStep(kind domain.StepKind, result *domain.StepResult) {
	r.kinds = append(r.kinds, kind)
	r.results = append(r.results, result)
}

func newExecutor(t *testing.T, steps []domain.StepDef, inv substrate.Invoker, obs Observer) *Executor {
	t.Helper()
	dag, err := engine.BuildDAG(steps)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	return New(Config{
		Workflow: &domain.WorkflowDef{ID: "wf", Name: "test", Steps: steps},
		DAG:      dag,
		Invoker:  inv,
		Observer: obs,
	})
}

func TestExecute_DependencySkip(t *testing.T) {
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "noop"},
		{ID: "b", HandlerName: "noop", DependsOn: []string{"a"}},
		{ID: "c", HandlerName: "noop", DependsOn: []string{"b"}},
	}
	inv := &fakeInvoker{}
	exec := newExecutor(t, steps, inv, nil)

	results := map[string]*domain.StepResult{
		"a": domain.NewFailed("a", string(node.KindExecution), "boom", 1),
		"b": domain.NewSkipped("b", `dependency "a" is failed`),
	}

	res := exec.Execute(context.Background(), "c", Env{Results: results})
	if res.Status != domain.StepStatusSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
	if !strings.Contains(res.Reason, `"a"`) || !strings.Contains(res.Reason, "failed") {
		t.Errorf("reason = %q, want it to name a and failed", res.Reason)
	}
	if len(inv.requests) != 0 {
		t.Errorf("invoker called %d times, want 0", len(inv.requests))
	}
}

func TestExecute_LogsRunIDOnce(t *testing.T) {
	steps := []domain.StepDef{{ID: "s", HandlerName: "noop"}}
	dag, err := engine.BuildDAG(steps)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("run_id", "run-1")
	exec := New(Config{
		Workflow: &domain.WorkflowDef{ID: "wf", Name: "test", Steps: steps},
		DAG:      dag,
		Invoker:  &fakeInvoker{},
		Logger:   logger,
	})

	res := exec.Execute(context.Background(), "s", Env{RunID: "run-1"})
	if res.Status != domain.StepStatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, "step finished") {
		t.Fatalf("expected step finished line, got %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if n := strings.Count(line, "run_id="); n != 1 {
			t.Errorf("run_id appears %d times, want 1: %s", n, line)
		}
		if !strings.Contains(line, "step_id=s") {
			t.Errorf("line should carry step_id: %s", line)
		}
	}
}

func TestExecute_ConditionSkip(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		inputs    map[string]any
		wantSkip  bool
	}{
		{"false literal", "false", nil, true},
		{"zero", "0", nil, true},
		{"empty input", "{{ inputs.flag }}", map[string]any{}, true},
		{"false input", "{{ inputs.flag }}", map[string]any{"flag": false}, true},
		{"true input", "{{ inputs.flag }}", map[string]any{"flag": true}, false},
		{"text", "yes", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := []domain.StepDef{{ID: "s", HandlerName: "noop", Condition: tt.condition}}
			inv := &fakeInvoker{}
			exec := newExecutor(t, steps, inv, nil)

			res := exec.Execute(context.Background(), "s", Env{Inputs: tt.inputs})
			if tt.wantSkip {
				if res.Status != domain.StepStatusSkipped {
					t.Fatalf("status = %s, want skipped", res.Status)
				}
				if !strings.Contains(res.Reason, tt.condition) {
					t.Errorf("reason %q does not name condition %q", res.Reason, tt.condition)
				}
				return
			}
			if res.Status != domain.StepStatusCompleted {
				t.Fatalf("status = %s, want completed", res.Status)
			}
		})
	}
}

func TestExecute_ActivityRendersInput(t *testing.T) {
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "noop"},
		{
			ID:          "b",
			HandlerName: "echo",
			DependsOn:   []string{"a"},
			Input: map[string]any{
				"user":  "{{ inputs.user }}",
				"count": "{{ step.a.result.count }}",
				"note":  "hello {{ inputs.user }}",
			},
			Retry: &domain.RetryDef{Count: 2},
		},
	}
	inv := &fakeInvoker{}
	exec := newExecutor(t, steps, inv, nil)

	results := map[string]*domain.StepResult{
		"a": domain.NewCompleted("a", map[string]any{"count": 3}, 1),
	}
	res := exec.Execute(context.Background(), "b", Env{
		RunID:   "run-1",
		Inputs:  map[string]any{"user": "ann"},
		Results: results,
	})
	if res.Status != domain.StepStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", res.Status, res.Message())
	}

	if len(inv.requests) != 1 {
		t.Fatalf("invoker called %d times, want 1", len(inv.requests))
	}
	req := inv.requests[0]
	input := req.Input.(map[string]any)
	if input["user"] != "ann" {
		t.Errorf("user = %v, want ann", input["user"])
	}
	if input["count"] != 3 {
		t.Errorf("count = %v (%T), want native 3", input["count"], input["count"])
	}
	if input["note"] != "hello ann" {
		t.Errorf("note = %v", input["note"])
	}
	if req.Options.Retry.MaximumAttempts != 3 {
		t.Errorf("MaximumAttempts = %d, want 3", req.Options.Retry.MaximumAttempts)
	}
	if req.Node.RunID != "run-1" || req.Node.StepID != "b" || req.Node.WorkflowID != "wf" {
		t.Errorf("node context = %+v", req.Node)
	}
	if res.StartedAt.IsZero() || res.FinishedAt.Before(res.StartedAt) {
		t.Errorf("timestamps not set: %v .. %v", res.StartedAt, res.FinishedAt)
	}
}

func TestExecute_ActivityFailure(t *testing.T) {
	steps := []domain.StepDef{{ID: "a", HandlerName: "fails"}}
	inv := &fakeInvoker{fn: func(req *substrate.Request) (*substrate.Result, error) {
		return &substrate.Result{
			Attempts: 3,
			Logs:     []domain.LogEntry{{Level: "ERROR", Message: "nope"}},
		}, node.NewError(node.KindNetwork, "connection refused")
	}}
	rec := &recorder{}
	exec := newExecutor(t, steps, inv, rec)

	res := exec.Execute(context.Background(), "a", Env{})
	if res.Status != domain.StepStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if res.ErrorKind != string(node.KindNetwork) {
		t.Errorf("error kind = %q", res.ErrorKind)
	}
	if !strings.Contains(res.Error, "connection refused") {
		t.Errorf("error = %q", res.Error)
	}
	if len(res.Logs) != 1 {
		t.Errorf("logs = %d, want 1", len(res.Logs))
	}
	if len(rec.results) != 1 || rec.kinds[0] != domain.KindActivity {
		t.Errorf("observer got %v", rec.kinds)
	}
}

func TestExecute_PlainErrorDefaultsToOneAttempt(t *testing.T) {
	steps := []domain.StepDef{{ID: "a", HandlerName: "fails"}}
	inv := &fakeInvoker{fn: func(req *substrate.Request) (*substrate.Result, error) {
		return nil, errors.New("substrate unavailable")
	}}
	exec := newExecutor(t, steps, inv, nil)

	res := exec.Execute(context.Background(), "a", Env{})
	if res.Status != domain.StepStatusFailed || res.Attempts != 1 {
		t.Fatalf("got %s attempts=%d, want failed attempts=1", res.Status, res.Attempts)
	}
	if res.ErrorKind != string(node.KindExecution) {
		t.Errorf("error kind = %q, want ExecutionError", res.ErrorKind)
	}
}

func TestExecute_Code(t *testing.T) {
	steps := []domain.StepDef{
		{ID: "a", HandlerName: "noop"},
		{
			ID:           "sum",
			Kind:         domain.KindCode,
			DependsOn:    []string{"a"},
			Input:        map[string]any{"n": "{{ inputs.n }}"},
			InlineScript: `console.log("summing"); return input.n + steps.a.value;`,
		},
	}
	exec := newExecutor(t, steps, &fakeInvoker{}, nil)

	res := exec.Execute(context.Background(), "sum", Env{
		Inputs:  map[string]any{"n": 2},
		Results: map[string]*domain.StepResult{"a": domain.NewCompleted("a", map[string]any{"value": 40}, 1)},
	})
	if res.Status != domain.StepStatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Message())
	}
	if n, ok := res.Output.(float64); !ok || n != 42 {
		t.Errorf("output = %v (%T), want 42", res.Output, res.Output)
	}
	if len(res.Logs) != 1 || res.Logs[0].Message != "summing" {
		t.Errorf("logs = %+v", res.Logs)
	}
}

func TestExecute_CodeTimeout(t *testing.T) {
	steps := []domain.StepDef{{
		ID:           "spin",
		Kind:         domain.KindCode,
		InlineScript: `while (true) {}`,
		Timeout:      &domain.TimeoutDef{StartToClose: domain.Duration(50 * time.Millisecond)},
	}}
	exec := newExecutor(t, steps, &fakeInvoker{}, nil)

	res := exec.Execute(context.Background(), "spin", Env{})
	if res.Status != domain.StepStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.ErrorKind != string(node.KindTimeout) {
		t.Errorf("error kind = %q, want TimeoutError", res.ErrorKind)
	}
	if !strings.Contains(res.Error, "50ms") {
		t.Errorf("error = %q, want it to name the limit", res.Error)
	}
}

func TestExecute_Signal(t *testing.T) {
	steps := []domain.StepDef{{ID: "approve", Kind: domain.KindSignal}}

	t.Run("delivered", func(t *testing.T) {
		exec := newExecutor(t, steps, &fakeInvoker{}, nil)
		signals := make(chan any, 1)
		signals <- map[string]any{"approved": true}

		res := exec.Execute(context.Background(), "approve", Env{Signals: signals, Cancelled: make(chan struct{})})
		if res.Status != domain.StepStatusCompleted {
			t.Fatalf("status = %s", res.Status)
		}
		if res.Output.(map[string]any)["approved"] != true {
			t.Errorf("output = %v", res.Output)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		exec := newExecutor(t, steps, &fakeInvoker{}, nil)
		cancelled := make(chan struct{})
		close(cancelled)

		res := exec.Execute(context.Background(), "approve", Env{Signals: make(chan any), Cancelled: cancelled})
		if res.Status != domain.StepStatusSkipped {
			t.Fatalf("status = %s, want skipped", res.Status)
		}
		if res.Reason != ReasonCancelledBeforeSignal {
			t.Errorf("reason = %q", res.Reason)
		}
	})

	t.Run("timed out", func(t *testing.T) {
		timed := []domain.StepDef{{
			ID:      "approve",
			Kind:    domain.KindSignal,
			Timeout: &domain.TimeoutDef{StartToClose: domain.Duration(20 * time.Millisecond)},
		}}
		exec := newExecutor(t, timed, &fakeInvoker{}, nil)

		res := exec.Execute(context.Background(), "approve", Env{Signals: make(chan any), Cancelled: make(chan struct{})})
		if res.Status != domain.StepStatusFailed {
			t.Fatalf("status = %s, want failed", res.Status)
		}
		if res.ErrorKind != string(node.KindTimeout) {
			t.Errorf("error kind = %q", res.ErrorKind)
		}
	})
}

func TestExecute_UnknownStep(t *testing.T) {
	exec := newExecutor(t, []domain.StepDef{{ID: "a", HandlerName: "noop"}}, &fakeInvoker{}, nil)

	res := exec.Execute(context.Background(), "ghost", Env{})
	if res.Status != domain.StepStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}
