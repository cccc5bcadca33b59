package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeEvents Exchange = "nightly.events"
	ExchangeDLQ    Exchange = "nightly.dlq"
)

const (
	QueueRunsFinished Queue = "runs.finished"
	QueueAlertsRaised Queue = "alerts.raised"
	QueueDLQEvents    Queue = "dlq.events"
)

const (
	RoutingKeyRunFinished RoutingKey = "run.finished"
	RoutingKeyAlertRaised RoutingKey = "alert.raised"
	RoutingKeyDLQ         RoutingKey = "events"
)

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

// topology описывает exchanges, queues и bindings.
func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}

	exchanges := []exchangeDecl{
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}
	queues := []queueDecl{
		{QueueRunsFinished, dlqArgs},
		{QueueAlertsRaised, dlqArgs},
		{QueueDLQEvents, nil},
	}
	bindings := []bindingDecl{
		{QueueRunsFinished, RoutingKeyRunFinished, ExchangeEvents},
		{QueueAlertsRaised, RoutingKeyAlertRaised, ExchangeEvents},
		{QueueDLQEvents, RoutingKeyDLQ, ExchangeDLQ},
	}
	return exchanges, queues, bindings
}

// SetupTopology объявляет топологию. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Nightly RabbitMQ Topology:

    nightly.events (topic)
    ├── runs.finished [routing: run.finished]
    │       DLQ: dlq.events
    └── alerts.raised [routing: alert.raised]
            Consumer: nightly alerts watch
            DLQ: dlq.events

    nightly.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
`
}
