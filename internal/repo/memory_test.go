package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
)

func newRun(workflowID string, created time.Time) *domain.Run {
	run := domain.NewRun(&domain.WorkflowDef{ID: workflowID}, map[string]any{"k": "v"})
	run.CreatedAt = created
	return run
}

func TestMemoryJournal_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	run := newRun("wf", time.Now())

	if err := j.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := j.SaveResult(ctx, run.ID, domain.NewCompleted("a", 1, 1)); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	run.MarkRunning()
	run.MarkCompleted()
	if err := j.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun update: %v", err)
	}

	got, err := j.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if len(got.Results) != 1 || got.Results["a"].Status != domain.StepStatusCompleted {
		t.Errorf("results = %v", got.Results)
	}
}

func TestMemoryJournal_ResultWrittenOnce(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	run := newRun("wf", time.Now())
	_ = j.SaveRun(ctx, run)

	if err := j.SaveResult(ctx, run.ID, domain.NewCompleted("a", 1, 1)); err != nil {
		t.Fatalf("first SaveResult: %v", err)
	}
	err := j.SaveResult(ctx, run.ID, domain.NewFailed("a", "ExecutionError", "late", 1))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second SaveResult err = %v, want ErrAlreadyExists", err)
	}

	got, _ := j.GetRun(ctx, run.ID)
	if got.Results["a"].Status != domain.StepStatusCompleted {
		t.Errorf("result overwritten: %+v", got.Results["a"])
	}
}

func TestMemoryJournal_NotFound(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	run := newRun("wf", time.Now())

	if _, err := j.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun err = %v, want ErrNotFound", err)
	}
	if err := j.SaveResult(ctx, run.ID, domain.NewSkipped("a", "x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveResult err = %v, want ErrNotFound", err)
	}
}

func TestMemoryJournal_ListRuns(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	base := time.Now()

	old := newRun("alpha", base.Add(-2*time.Minute))
	mid := newRun("beta", base.Add(-time.Minute))
	recent := newRun("alpha", base)
	recent.MarkRunning()
	for _, r := range []*domain.Run{old, mid, recent} {
		_ = j.SaveRun(ctx, r)
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all newest first", RunFilter{}, []string{recent.ID.String(), mid.ID.String(), old.ID.String()}},
		{"by workflow", RunFilter{WorkflowID: "alpha"}, []string{recent.ID.String(), old.ID.String()}},
		{"by status", RunFilter{Status: domain.RunStatusRunning}, []string{recent.ID.String()}},
		{"limit", RunFilter{Limit: 1}, []string{recent.ID.String()}},
		{"offset", RunFilter{Offset: 2}, []string{old.ID.String()}},
		{"offset past end", RunFilter{Offset: 5}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := j.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(runs), len(tt.want))
			}
			for i, id := range tt.want {
				if runs[i].ID.String() != id {
					t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, id)
				}
			}
		})
	}
}
