package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunSignal    MessageType = "run.signal"
	MessageTypeRunCancel    MessageType = "run.cancel"
	MessageTypeStepFinished MessageType = "step.finished"
	MessageTypeRunFinished  MessageType = "run.finished"
)

// Message — конверт для всех сообщений.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// SignalPayload — сигнал для шага активного run.
type SignalPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	StepID  string    `json:"step_id"`
	Payload any       `json:"payload"`
}

// CancelPayload — запрос отмены run.
type CancelPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// StepFinishedPayload — терминальный результат шага.
type StepFinishedPayload struct {
	RunID  uuid.UUID          `json:"run_id"`
	Result *domain.StepResult `json:"result"`
}

// RunFinishedPayload — итог run.
type RunFinishedPayload struct {
	RunID      uuid.UUID        `json:"run_id"`
	WorkflowID string           `json:"workflow_id"`
	Status     domain.RunStatus `json:"status"`
	Completed  int              `json:"completed"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	DurationMs int64            `json:"duration_ms"`
}

// NewRunFinishedPayload собирает итог run.
func NewRunFinishedPayload(run *domain.Run) RunFinishedPayload {
	counts := run.Counts()
	return RunFinishedPayload{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		Completed:  counts[domain.StepStatusCompleted],
		Failed:     counts[domain.StepStatusFailed],
		Skipped:    counts[domain.StepStatusSkipped],
		DurationMs: run.Duration().Milliseconds(),
	}
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	publishing, err := encode(msg)
	if err != nil {
		return err
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, publishing); err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// encode сериализует конверт в AMQP publishing.
func encode(msg *Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}, nil
}

// PublishSignal отправляет сигнал шагу run.
func (p *Publisher) PublishSignal(ctx context.Context, runID uuid.UUID, stepID string, payload any) error {
	msg := NewMessage(MessageTypeRunSignal, SignalPayload{RunID: runID, StepID: stepID, Payload: payload})
	return p.Publish(ctx, ExchangeControl, RoutingKeySignal, msg)
}

// PublishCancel отправляет запрос отмены run.
func (p *Publisher) PublishCancel(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypeRunCancel, CancelPayload{RunID: runID})
	return p.Publish(ctx, ExchangeControl, RoutingKeyCancel, msg)
}

// PublishStepFinished публикует терминальный результат шага.
func (p *Publisher) PublishStepFinished(ctx context.Context, runID uuid.UUID, result *domain.StepResult) error {
	msg := NewMessage(MessageTypeStepFinished, StepFinishedPayload{RunID: runID, Result: result})
	return p.Publish(ctx, ExchangeEvents, RoutingKeyStepFinished, msg)
}

// PublishRunFinished публикует итог run.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	msg := NewMessage(MessageTypeRunFinished, NewRunFinishedPayload(run))
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunFinished, msg)
}
