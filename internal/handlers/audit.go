package handlers

import (
	"context"
	"time"

	"github.com/kaushiksamanta/krama/internal/node"
)

// NameAuditLog — имя обработчика аудита.
const NameAuditLog = "audit-log"

// AuditLog — обработчик записи события аудита.
//
// Пишет событие в логгер вызова (оно попадает в захваченные логи шага)
// и возвращает запись:
//
//	{"event": "order.approved", "actor": "{{ inputs.user }}", "details": {...}}
type AuditLog struct {
	now func() time.Time
}

// NewAuditLog создаёт обработчик аудита.
func NewAuditLog() *AuditLog {
	return &AuditLog{now: time.Now}
}

// Meta реализует node.Handler.
func (a *AuditLog) Meta() node.Meta {
	return node.Meta{
		Name:        NameAuditLog,
		Description: "Records an audit event for the running workflow",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"event"},
			"properties": map[string]any{
				"event":   map[string]any{"type": "string", "minLength": 1},
				"actor":   map[string]any{"type": "string"},
				"details": map[string]any{"type": "object"},
			},
		},
	}
}

// Execute записывает событие.
func (a *AuditLog) Execute(ctx context.Context, input any, nctx *node.Context) (any, error) {
	in, err := node.InputMap(input)
	if err != nil {
		return nil, err
	}

	record := map[string]any{
		"event":      node.GetString(in, "event"),
		"actor":      node.GetString(in, "actor"),
		"workflowId": nctx.WorkflowID,
		"runId":      nctx.RunID,
		"stepId":     nctx.StepID,
		"recordedAt": a.now().UTC().Format(time.RFC3339Nano),
	}
	if details := node.GetMap(in, "details"); details != nil {
		record["details"] = details
	}

	nctx.Logger.Info("audit event",
		"event", record["event"],
		"actor", record["actor"],
		"workflow_id", nctx.WorkflowID,
		"run_id", nctx.RunID,
	)
	return record, nil
}
