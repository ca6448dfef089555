package handlers

import (
	"context"
	"time"

	"github.com/kaushiksamanta/krama/internal/node"
)

// NameDelay — имя обработчика задержки.
const NameDelay = "delay"

// Delay — обработчик задержки.
//
// Вход: {"durationMs": 500} или {"durationSec": 10}.
// Поддерживает отмену через ctx.
type Delay struct{}

// NewDelay создаёт обработчик задержки.
func NewDelay() *Delay {
	return &Delay{}
}

// Meta реализует node.Handler.
func (d *Delay) Meta() node.Meta {
	return node.Meta{
		Name:        NameDelay,
		Description: "Waits for the given duration",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"durationMs":  map[string]any{"type": "number", "minimum": 0},
				"durationSec": map[string]any{"type": "number", "minimum": 0},
			},
		},
	}
}

// Execute выполняет задержку.
func (d *Delay) Execute(ctx context.Context, input any, nctx *node.Context) (any, error) {
	in, err := node.InputMap(input)
	if err != nil {
		return nil, err
	}

	duration, err := parseDelay(in)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"durationMs": duration.Milliseconds()}, nil
	}
}

func parseDelay(in map[string]any) (time.Duration, error) {
	if sec := node.GetInt(in, "durationSec"); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := node.GetInt(in, "durationMs"); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, node.NewError(node.KindValidation, "durationSec or durationMs required")
}
