package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/shaiso/Nightly/internal/domain"
)

// MessageType — тип события.
type MessageType string

const (
	MessageTypeRunFinished MessageType = "run.finished"
	MessageTypeAlertRaised MessageType = "alert.raised"
)

// Message — конверт события.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunFinishedPayload — краткая сводка завершённого run.
type RunFinishedPayload struct {
	RunID           string           `json:"run_id"`
	Status          domain.RunStatus `json:"status"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time"`
	DurationSeconds *float64         `json:"duration_seconds"`
	Steps           []string         `json:"steps"`
	FailedStep      string           `json:"failed_step,omitempty"`
	Errors          []string         `json:"errors"`
	Warnings        int              `json:"warnings"`
}

// NewRunFinishedPayload строит payload из финализированного отчёта.
func NewRunFinishedPayload(r *domain.RunReport) RunFinishedPayload {
	p := RunFinishedPayload{
		RunID:           r.RunID,
		Status:          r.Status,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.TotalDurationSeconds,
		Steps:           r.Steps.Names(),
		Errors:          r.Errors,
		Warnings:        len(r.Warnings),
	}
	for _, s := range r.Steps {
		if s.Outcome.IsFailed() {
			p.FailedStep = s.Name
			break
		}
	}
	return p
}

// sendFunc отправляет готовое AMQP сообщение.
type sendFunc func(ctx context.Context, exchange Exchange, key RoutingKey, msg amqp.Publishing) error

// Publisher публикует события pipeline в nightly.events.
type Publisher struct {
	send   sendFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт Publisher поверх соединения.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	send := func(ctx context.Context, exchange Exchange, key RoutingKey, msg amqp.Publishing) error {
		return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
			return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, msg)
		})
	}
	return newPublisher(send, logger)
}

func newPublisher(send sendFunc, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{send: send, logger: logger, now: time.Now}
}

// Publish публикует сообщение. Trace context передаётся в заголовках.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	err = p.send(ctx, exchange, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", key,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishRunFinished публикует итог run.
func (p *Publisher) PublishRunFinished(ctx context.Context, r *domain.RunReport) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunFinished,
		p.newMessage(MessageTypeRunFinished, NewRunFinishedPayload(r)))
}

// PublishAlert публикует алерт мониторинга.
func (p *Publisher) PublishAlert(ctx context.Context, a domain.Alert) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyAlertRaised,
		p.newMessage(MessageTypeAlertRaised, a))
}

func (p *Publisher) newMessage(t MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	}
}

// headerCarrier адаптирует amqp.Table к propagation.TextMapCarrier.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
