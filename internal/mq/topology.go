package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeControl — команды для активных runs (сигналы, отмена).
	ExchangeControl Exchange = "krama.control"

	// ExchangeEvents — события завершения шагов и runs (topic).
	ExchangeEvents Exchange = "krama.events"

	ExchangeDLQ Exchange = "krama.dlq"
)

// Queues — имена очередей.
const (
	QueueControl    Queue = "control.commands"
	QueueDLQControl Queue = "dlq.control"
)

// Routing keys совпадают с типами сообщений.
const (
	RoutingKeySignal       RoutingKey = RoutingKey(MessageTypeRunSignal)
	RoutingKeyCancel       RoutingKey = RoutingKey(MessageTypeRunCancel)
	RoutingKeyStepFinished RoutingKey = RoutingKey(MessageTypeStepFinished)
	RoutingKeyRunFinished  RoutingKey = RoutingKey(MessageTypeRunFinished)
	RoutingKeyDLQControl   RoutingKey = "control"
)

// declarer — часть *amqp.Channel, нужная для объявления топологии.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var (
	exchanges = []exchangeDecl{
		{ExchangeControl, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	queues = []queueDecl{
		// Команды, которые не удалось разобрать, уходят в DLQ
		{QueueControl, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQControl),
		}},
		{QueueDLQControl, nil},
	}

	bindings = []bindingDecl{
		{QueueControl, RoutingKeySignal, ExchangeControl},
		{QueueControl, RoutingKeyCancel, ExchangeControl},
		{QueueDLQControl, RoutingKeyDLQControl, ExchangeDLQ},
	}
)

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентно.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return declareTopology(ch)
	})
}

func declareTopology(d declarer) error {
	for _, ex := range exchanges {
		if err := d.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	for _, q := range queues {
		if _, err := d.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	for _, b := range bindings {
		if err := d.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  krama.control (direct)
  └── control.commands [run.signal, run.cancel]  DLQ: dlq.control
          Consumer: krama-server

  krama.events (topic)
      step.finished, run.finished  (внешние подписчики)

  krama.dlq (direct)
  └── dlq.control [control]
`
}
