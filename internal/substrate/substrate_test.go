package substrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/node"
)

func TestTranslateRetry(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.RetryDef
		want RetryPolicy
	}{
		{
			name: "no policy",
			def:  nil,
			want: RetryPolicy{InitialInterval: time.Second, BackoffCoefficient: 2, MaximumInterval: DefaultBackoffCeiling, MaximumAttempts: 1},
		},
		{
			name: "count means extra retries",
			def:  &domain.RetryDef{Count: 3},
			want: RetryPolicy{InitialInterval: time.Second, BackoffCoefficient: 2, MaximumInterval: DefaultBackoffCeiling, MaximumAttempts: 4},
		},
		{
			name: "explicit attempts win",
			def: &domain.RetryDef{
				Count:              3,
				MaximumAttempts:    2,
				InitialInterval:    domain.Duration(250 * time.Millisecond),
				BackoffCoefficient: 1.5,
			},
			want: RetryPolicy{InitialInterval: 250 * time.Millisecond, BackoffCoefficient: 1.5, MaximumInterval: DefaultBackoffCeiling, MaximumAttempts: 2},
		},
		{
			name: "maximum interval override",
			def:  &domain.RetryDef{Count: 1, MaximumInterval: domain.Duration(10 * time.Second)},
			want: RetryPolicy{InitialInterval: time.Second, BackoffCoefficient: 2, MaximumInterval: 10 * time.Second, MaximumAttempts: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TranslateRetry(tt.def, 0); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestTranslateTimeout(t *testing.T) {
	if got := TranslateTimeout(0, 0); got != time.Hour {
		t.Errorf("default timeout should be 1h, got %v", got)
	}
	if got := TranslateTimeout(0, 10*time.Minute); got != 10*time.Minute {
		t.Errorf("fallback should be used, got %v", got)
	}
	if got := TranslateTimeout(domain.Duration(5*time.Second), time.Hour); got != 5*time.Second {
		t.Errorf("declared timeout should win, got %v", got)
	}
}

func TestOptionsFor_HandlerDefaultRetry(t *testing.T) {
	step := &domain.StepDef{ID: "a", HandlerName: "h"}
	handlerRetry := &domain.RetryDef{MaximumAttempts: 5}

	opts := OptionsFor(step, handlerRetry, Defaults{})
	if opts.Retry.MaximumAttempts != 5 {
		t.Errorf("handler retry should apply, got %d", opts.Retry.MaximumAttempts)
	}
	if opts.StartToCloseTimeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", opts.StartToCloseTimeout)
	}

	step.Retry = &domain.RetryDef{Count: 0}
	if got := OptionsFor(step, handlerRetry, Defaults{}).Retry.MaximumAttempts; got != 1 {
		t.Errorf("step retry should override handler retry, got %d", got)
	}
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, BackoffCoefficient: 2, MaximumInterval: 5 * time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	huge := RetryPolicy{InitialInterval: time.Hour, BackoffCoefficient: 10, MaximumInterval: DefaultBackoffCeiling}
	if got := huge.Backoff(40); got != DefaultBackoffCeiling {
		t.Errorf("large attempts should be capped, got %v", got)
	}
}

// flaky падает первые failures вызовов с ошибкой вида kind.
type flaky struct {
	calls    atomic.Int32
	failures int32
	kind     node.Kind
}

func (f *flaky) Meta() node.Meta {
	return node.Meta{Name: "flaky", Version: "1.0.0"}
}

func (f *flaky) Execute(ctx context.Context, input any, nctx *node.Context) (any, error) {
	n := f.calls.Add(1)
	nctx.Logger.Info("attempt", "n", nctx.Attempt)
	if n <= f.failures {
		return nil, node.NewError(f.kind, "failure %d", n)
	}
	return map[string]any{"attempt": nctx.Attempt}, nil
}

func newLocal(t *testing.T, handlers ...node.Handler) (*Local, *[]time.Duration) {
	t.Helper()
	r := node.NewRegistry()
	for _, h := range handlers {
		r.MustRegister(h)
	}
	l := NewLocal(r, slog.New(slog.NewTextHandler(io.Discard, nil)))
	waits := &[]time.Duration{}
	l.wait = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return l, waits
}

func request(attempts int) *Request {
	return &Request{
		Handler: "flaky",
		Node:    &node.Context{StepID: "s"},
		Options: ActivityOptions{
			StartToCloseTimeout: time.Second,
			Retry:               RetryPolicy{InitialInterval: 100 * time.Millisecond, BackoffCoefficient: 2, MaximumInterval: time.Minute, MaximumAttempts: attempts},
		},
	}
}

func TestLocal_RetriesUntilSuccess(t *testing.T) {
	h := &flaky{failures: 2, kind: node.KindExecution}
	l, waits := newLocal(t, h)

	res, err := l.Invoke(context.Background(), request(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Output.(map[string]any)["attempt"] != 3 {
		t.Errorf("handler should see attempt number, got %v", res.Output)
	}
	if len(res.Logs) != 3 {
		t.Errorf("logs of all attempts should be kept, got %d", len(res.Logs))
	}
	if len(*waits) != 2 || (*waits)[0] != 100*time.Millisecond || (*waits)[1] != 200*time.Millisecond {
		t.Errorf("unexpected backoff delays: %v", *waits)
	}
}

func TestLocal_ExhaustsAttempts(t *testing.T) {
	h := &flaky{failures: 10, kind: node.KindNetwork}
	l, _ := newLocal(t, h)

	res, err := l.Invoke(context.Background(), request(2))
	if node.KindOf(err) != node.KindNetwork {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
}

func TestLocal_NonRetryable(t *testing.T) {
	h := &flaky{failures: 10, kind: node.KindValidation}
	l, waits := newLocal(t, h)

	res, err := l.Invoke(context.Background(), request(5))
	if node.KindOf(err) != node.KindValidation {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if res.Attempts != 1 || len(*waits) != 0 {
		t.Errorf("validation errors must not be retried: attempts=%d waits=%v", res.Attempts, *waits)
	}
}

func TestLocal_UnknownHandler(t *testing.T) {
	l, _ := newLocal(t)

	res, err := l.Invoke(context.Background(), request(3))
	if !errors.Is(err, node.ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestLocal_AttemptTimeout(t *testing.T) {
	// Обработчик игнорирует ctx
	stuck := node.HandlerFunc{
		Info: node.Meta{Name: "stuck", Version: "1.0.0"},
		Fn: func(ctx context.Context, input any, nctx *node.Context) (any, error) {
			time.Sleep(time.Second)
			return "late", nil
		},
	}
	l, _ := newLocal(t, stuck)

	req := request(1)
	req.Handler = "stuck"
	req.Options.StartToCloseTimeout = 30 * time.Millisecond

	start := time.Now()
	_, err := l.Invoke(context.Background(), req)
	if node.KindOf(err) != node.KindTimeout {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout should return promptly, took %v", elapsed)
	}
}

func TestAwait(t *testing.T) {
	t.Run("payload first", func(t *testing.T) {
		payloads := make(chan any, 1)
		payloads <- "ok"
		cancelled := make(chan struct{})
		close(cancelled)

		p, outcome := Await(context.Background(), payloads, cancelled, 0)
		if outcome != Delivered || p != "ok" {
			t.Errorf("expected delivered ok, got %v %v", p, outcome)
		}
	})

	t.Run("cancel first", func(t *testing.T) {
		cancelled := make(chan struct{})
		go func() {
			time.Sleep(10 * time.Millisecond)
			close(cancelled)
		}()

		_, outcome := Await(context.Background(), make(chan any), cancelled, 0)
		if outcome != Cancelled {
			t.Errorf("expected Cancelled, got %v", outcome)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		_, outcome := Await(context.Background(), make(chan any), make(chan struct{}), 10*time.Millisecond)
		if outcome != TimedOut {
			t.Errorf("expected TimedOut, got %v", outcome)
		}
	})

	t.Run("late payload", func(t *testing.T) {
		payloads := make(chan any, 1)
		go func() {
			time.Sleep(10 * time.Millisecond)
			payloads <- map[string]any{"approved": true}
		}()

		p, outcome := Await(context.Background(), payloads, make(chan struct{}), time.Second)
		if outcome != Delivered || p.(map[string]any)["approved"] != true {
			t.Errorf("expected payload, got %v %v", p, outcome)
		}
	})
}
