package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"wasch-booking-backend/pkg/logging"
)

// Publisher delivers lifecycle events. Callers treat failures as best effort.
type Publisher interface {
	Publish(ctx context.Context, event AppointmentEvent) error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AppointmentEvent) error { return nil }

// AMQPPublisher publishes persistent JSON messages to a durable queue over a
// shared connection, redialing once the connection has been closed.
type AMQPPublisher struct {
	url   string
	queue string
	log   *logging.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewAMQPPublisher dials url and declares queue.
func NewAMQPPublisher(url, queue string, logger *logging.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	p := &AMQPPublisher{url: url, queue: queue, log: logger}
	ch, err := p.channel()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ch.Close() }()
	return p, nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}
	return ch, nil
}

// Publish sends event to the configured queue through the default exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, event AppointmentEvent) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		p.log.Warn("rabbitmq publish skipped", "type", event.Type, "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(event.Type),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq publish failed", "type", event.Type, "error", err)
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	err := p.conn.Close()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// Encode renders event as the JSON message body.
func Encode(event AppointmentEvent) ([]byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}
	return body, nil
}
