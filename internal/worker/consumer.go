package worker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/waqarahm3d/qoqnuzmedia/internal/dispatch"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// TaskHandler executes one decoded delivery. Handle returning nil settles the
// delivery; an error means infrastructure trouble and the consumer decides
// whether to redeliver. HandleLost is invoked when a delivery exhausted its
// redelivery budget.
type TaskHandler interface {
	Handle(ctx context.Context, handle string, payload []byte) error
	HandleLost(ctx context.Context, payload []byte)
}

// ConsumerOptions carries queue consumption policy.
type ConsumerOptions struct {
	Queue string
	// Workers bounds concurrent task execution; it doubles as the channel
	// prefetch so the broker never hands us more than we can run.
	Workers int
	// RedeliveryLimit is how many times a delivery lost to a dead worker is
	// retried before the job is settled as failed.
	RedeliveryLimit int
}

// Consumer pulls deliveries off one queue and runs them on a bounded pool.
// Deliveries are acknowledged only after the handler returns, so a worker
// crash mid-task puts the delivery back on the queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	backend dispatch.Backend
	handler TaskHandler
	opts    ConsumerOptions
	logger  observability.Logger
	metrics observability.Metrics

	wg sync.WaitGroup
}

func NewConsumer(url string, backend dispatch.Backend, handler TaskHandler, opts ConsumerOptions, logger observability.Logger, metrics observability.Metrics) (*Consumer, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(opts.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", opts.Queue, err)
	}

	if err := channel.Qos(opts.Workers, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		backend: backend,
		handler: handler,
		opts:    opts,
		logger:  logger.WithFields(map[string]interface{}{"component": "consumer", "queue": opts.Queue}),
		metrics: metrics,
	}, nil
}

// Start begins consuming and blocks until the context is cancelled and all
// in-flight tasks have drained.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(
		c.opts.Queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", c.opts.Queue, err)
	}

	c.logger.Info("consumer started", "workers", c.opts.Workers)

	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for d := range deliveries {
				c.handleDelivery(ctx, d)
			}
		}()
	}

	<-ctx.Done()
	c.channel.Close()
	c.wg.Wait()
	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	env, err := dispatch.DecodeEnvelope(d.Body)
	if err != nil {
		c.logger.Error("undecodable delivery dropped", "error", err)
		c.metrics.RecordError("consume", "bad_envelope")
		d.Nack(false, false)
		return
	}

	log := c.logger.WithFields(map[string]interface{}{"handle": env.Handle})

	deliveries, err := c.backend.IncrDeliveries(ctx, env.Handle)
	if err != nil {
		log.Warn("failed to count delivery", "error", err)
	}
	if deliveries > c.opts.RedeliveryLimit+1 {
		// The worker holding this delivery died repeatedly. Settle the job
		// instead of bouncing the message forever.
		log.Warn("redelivery budget exhausted", "deliveries", deliveries)
		c.metrics.RecordError("consume", "worker_lost")
		c.handler.HandleLost(ctx, env.Payload)
		d.Ack(false)
		return
	}

	if err := c.handler.Handle(ctx, env.Handle, env.Payload); err != nil {
		if !d.Redelivered {
			log.Warn("task failed, requeueing once", "error", err)
			d.Nack(false, true)
			return
		}
		log.Error("redelivered task failed again, settling and dropping", "error", err)
		c.metrics.RecordError("consume", "handler_failed")
		// The message is about to leave the queue for good; settle the job
		// record so it does not linger non-terminal.
		c.handler.HandleLost(ctx, env.Payload)
		d.Nack(false, false)
		return
	}

	// Late acknowledgement: only a fully settled task leaves the queue.
	d.Ack(false)
	c.metrics.RecordSuccess("consume")
}

// Close tears down the AMQP connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
