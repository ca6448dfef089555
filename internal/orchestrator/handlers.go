package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/mq"
)

// HandleControl обрабатывает управляющее сообщение из очереди.
//
// Сообщения для неактивных runs подтверждаются без действия: run мог
// завершиться до прихода команды. Неразборчивые сообщения уходят в DLQ.
func (r *Runtime) HandleControl(ctx context.Context, msg *mq.Message) error {
	switch msg.Type {
	case mq.MessageTypeRunSignal:
		return r.handleSignal(msg)
	case mq.MessageTypeRunCancel:
		return r.handleCancel(msg)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnknownMessage, msg.Type, mq.ErrReject)
	}
}

func (r *Runtime) handleSignal(msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.SignalPayload](msg)
	if err != nil {
		return fmt.Errorf("parse run.signal payload: %w: %w", err, mq.ErrReject)
	}

	r.logger.Debug("received run.signal", "run_id", payload.RunID, "step_id", payload.StepID)

	err = r.Deliver(payload.RunID, payload.StepID, payload.Payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunNotActive):
		r.logger.Debug("signal for inactive run ignored", "run_id", payload.RunID)
		return nil
	case errors.Is(err, ErrStepNotFound):
		return fmt.Errorf("%w: %w", err, mq.ErrReject)
	default:
		return err
	}
}

func (r *Runtime) handleCancel(msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.CancelPayload](msg)
	if err != nil {
		return fmt.Errorf("parse run.cancel payload: %w: %w", err, mq.ErrReject)
	}

	r.logger.Debug("received run.cancel", "run_id", payload.RunID)

	if err := r.Cancel(payload.RunID); err != nil && !errors.Is(err, ErrRunNotActive) {
		return err
	}
	return nil
}

// mqEvents публикует события runs через mq.Publisher.
type mqEvents struct {
	publisher *mq.Publisher
}

// NewMQEvents возвращает EventPublisher поверх RabbitMQ.
func NewMQEvents(publisher *mq.Publisher) EventPublisher {
	return &mqEvents{publisher: publisher}
}

func (e *mqEvents) PublishStepFinished(ctx context.Context, runID uuid.UUID, result *domain.StepResult) error {
	return e.publisher.PublishStepFinished(ctx, runID, result)
}

func (e *mqEvents) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	return e.publisher.PublishRunFinished(ctx, run)
}
