package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/mq"
)

// Controller доставляет управляющие команды активному run.
type Controller interface {
	Signal(ctx context.Context, runID, stepID string, payload json.RawMessage) error
	Cancel(ctx context.Context, runID string) error
	Close() error
}

// apiController отправляет команды через HTTP API.
// Ответ API сообщает, принята ли команда.
type apiController struct {
	client *Client
}

func (c *apiController) Signal(_ context.Context, runID, stepID string, payload json.RawMessage) error {
	return c.client.SignalRun(runID, stepID, payload)
}

func (c *apiController) Cancel(_ context.Context, runID string) error {
	return c.client.CancelRun(runID)
}

func (c *apiController) Close() error { return nil }

// publisher — часть mq.Publisher, нужная командам.
type publisher interface {
	PublishSignal(ctx context.Context, runID uuid.UUID, stepID string, payload any) error
	PublishCancel(ctx context.Context, runID uuid.UUID) error
}

// amqpController публикует команды в exchange управления.
// Доставка асинхронна: ошибки вроде неизвестного run видны только в логах сервера.
type amqpController struct {
	pub   publisher
	close func() error
}

// dialAMQP подключается к брокеру и создаёт amqpController.
func dialAMQP(url string, logger *slog.Logger) (*amqpController, error) {
	conn, err := mq.Dial(url, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return &amqpController{pub: mq.NewPublisher(conn, logger), close: conn.Close}, nil
}

func (c *amqpController) Signal(ctx context.Context, runID, stepID string, payload json.RawMessage) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	var value any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &value); err != nil {
			return fmt.Errorf("signal payload must be JSON: %w", err)
		}
	}
	return c.pub.PublishSignal(ctx, id, stepID, value)
}

func (c *amqpController) Cancel(ctx context.Context, runID string) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	return c.pub.PublishCancel(ctx, id)
}

func (c *amqpController) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
