package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPForwarder copies lifecycle events to a durable RabbitMQ queue so
// systems outside this process (mailers, dashboards) can consume them.
//
// The connection is opened lazily and dropped on any publish error; the next
// event redials.
type AMQPForwarder struct {
	url    string
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPForwarder(url, queue string, logger *slog.Logger) *AMQPForwarder {
	if queue == "" {
		queue = "library.events"
	}
	return &AMQPForwarder{url: url, queue: queue, logger: logger}
}

// Register subscribes the forwarder to every lifecycle topic on bus.
func (f *AMQPForwarder) Register(bus *Bus) {
	for _, topic := range AllTopics {
		bus.Handle("amqp-forward-"+topic, topic, f.Forward)
	}
}

// Forward publishes e as a persistent JSON message.
func (f *AMQPForwarder) Forward(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("amqp: encoding event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.connectLocked(); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         e.Topic,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := f.ch.PublishWithContext(ctx, "", f.queue, false, false, pub); err != nil {
		f.closeLocked()
		return fmt.Errorf("amqp: publishing %s: %w", e.Topic, err)
	}
	return nil
}

func (f *AMQPForwarder) connectLocked() error {
	if f.conn != nil && !f.conn.IsClosed() && f.ch != nil {
		return nil
	}
	f.closeLocked()

	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("amqp: dialing: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		f.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: declaring queue %s: %w", f.queue, err)
	}

	f.conn, f.ch = conn, ch
	f.logger.Info("connected to rabbitmq", slog.String("queue", f.queue))
	return nil
}

func (f *AMQPForwarder) closeLocked() {
	if f.ch != nil {
		f.ch.Close()
		f.ch = nil
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// Close drops the broker connection.
func (f *AMQPForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}
