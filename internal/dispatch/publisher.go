package dispatch

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/waqarahm3d/qoqnuzmedia/internal/config"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// Publisher pushes raw task payloads onto a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// AMQPPublisher implements Publisher over RabbitMQ with durable queues and
// persistent messages, so a broker restart does not lose queued work.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  observability.Logger
	metrics observability.Metrics
}

// NewAMQPPublisher connects to the broker and opens a channel.
func NewAMQPPublisher(cfg *config.BrokerConfig, logger observability.Logger, metrics observability.Metrics) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	logger.Info("AMQP publisher initialized")

	return &AMQPPublisher{
		conn:    conn,
		channel: channel,
		logger:  logger.WithFields(map[string]interface{}{"component": "publisher"}),
		metrics: metrics,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, queue string, body []byte) error {
	start := time.Now()
	defer func() {
		p.metrics.RecordDuration("queue_publish", time.Since(start).Seconds())
	}()

	// Idempotent: declares the queue if it does not exist yet.
	if _, err := p.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		p.metrics.RecordError("queue_publish", "declare_failed")
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	err := p.channel.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.metrics.RecordError("queue_publish", "publish_failed")
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	p.logger.Debug("message published", "queue", queue, "size", len(body))
	p.metrics.RecordSuccess("queue_publish")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
