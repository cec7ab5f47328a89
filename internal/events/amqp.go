package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joss/kotoshop/internal/logging"
)

// Channel is the part of *amqp.Channel the sink uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DialFunc opens a channel and returns a closer for the underlying
// connection.
type DialFunc func(url string) (Channel, func() error, error)

// DialAMQP connects to a real broker.
func DialAMQP(url string) (Channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	return ch, conn.Close, nil
}

// AMQPSink forwards order-placed events to a durable queue. Orders are rare,
// so it connects per message and keeps no connection open.
type AMQPSink struct {
	URL   string
	Queue string
	Dial  DialFunc

	log *logging.Logger
}

// NewAMQPSink creates a sink for url and queue.
func NewAMQPSink(url, queue string) *AMQPSink {
	return &AMQPSink{
		URL:   url,
		Queue: queue,
		Dial:  DialAMQP,
		log:   logging.New("events.amqp"),
	}
}

// Handle is a Handler for OrderPlaced. Broker failures are logged and
// returned; the order itself has already succeeded.
func (s *AMQPSink) Handle(ctx context.Context, ev Event) error {
	if ev.Kind != OrderPlaced {
		return nil
	}
	if err := s.publish(ctx, ev); err != nil {
		s.log.Warn("publish_failed", map[string]interface{}{"queue": s.Queue}, err)
		return err
	}
	s.log.Info("published", map[string]interface{}{"queue": s.Queue})
	return nil
}

func (s *AMQPSink) publish(ctx context.Context, ev Event) error {
	ch, closeConn, err := s.Dial(s.URL)
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
		if closeConn != nil {
			_ = closeConn()
		}
	}()

	if _, err := ch.QueueDeclare(s.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return ch.PublishWithContext(ctx, "", s.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
