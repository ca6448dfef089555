package node

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// logSink — упорядоченный список захваченных записей одного вызова.
type logSink struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (s *logSink) add(e domain.LogEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *logSink) snapshot() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// captureHandler — slog.Handler, который сохраняет каждую запись в sink
// и передаёт её дальше в базовый handler.
type captureHandler struct {
	next   slog.Handler
	sink   *logSink
	attrs  []slog.Attr
	prefix string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})

	h.sink.add(domain.LogEntry{
		Level:   r.Level.String(),
		Message: r.Message,
		Time:    r.Time,
		Attrs:   attrs,
	})

	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		combined = append(combined, a)
	}
	return &captureHandler{
		next:   h.next.WithAttrs(attrs),
		sink:   h.sink,
		attrs:  combined,
		prefix: h.prefix,
	}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &captureHandler{
		next:   h.next.WithGroup(name),
		sink:   h.sink,
		attrs:  h.attrs,
		prefix: h.prefix + name + ".",
	}
}

// newCaptureLogger создаёт логгер вызова с тегом step_id.
func newCaptureLogger(base *slog.Logger, stepID string) (*slog.Logger, *logSink) {
	if base == nil {
		base = slog.Default()
	}
	sink := &logSink{}
	h := &captureHandler{next: base.Handler(), sink: sink}
	return slog.New(h).With("step_id", stepID), sink
}
