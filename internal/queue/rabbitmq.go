package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"voscribe/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// Exchange is the direct exchange all voscribe tasks go through.
	Exchange = "voscribe"
	// TranscribeQueue holds chunk tasks awaiting transcription.
	TranscribeQueue = "transcription_chunks"

	dialAttempts = 5
	dialDelay    = 2 * time.Second
)

// Options configures the broker connection.
type Options struct {
	URL string
	// Prefetch caps unacked deliveries per consumer. Zero means 1.
	Prefetch int
	// PublishTimeout bounds the publish confirm wait. Zero means 5s.
	PublishTimeout time.Duration
}

// Broker publishes and consumes chunk tasks over RabbitMQ. Publishes run
// in confirm mode, so a nil error means the broker holds the message.
type Broker struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	prefetch   int
	pubTimeout time.Duration
}

// Connect dials the broker and declares the task topology. The broker is
// often the last service up under compose, so the dial retries briefly.
func Connect(opts Options) (*Broker, error) {
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(opts.URL)
		if err == nil {
			break
		}
		if attempt < dialAttempts {
			logger.Warn("RabbitMQ not ready, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			time.Sleep(dialDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("RabbitMQ connected", zap.String("queue", TranscribeQueue))

	return &Broker{
		conn:       conn,
		ch:         ch,
		prefetch:   opts.Prefetch,
		pubTimeout: opts.PublishTimeout,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(TranscribeQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(TranscribeQueue, TranscribeQueue, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// PublishChunkTask enqueues a chunk for transcription and waits for the
// broker to confirm it.
func (b *Broker) PublishChunkTask(ctx context.Context, task *ChunkTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.pubTimeout)
	defer cancel()

	conf, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, TranscribeQueue, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.ChunkID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm publish: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected task for chunk %s", task.ChunkID)
	}

	logger.Debug("Chunk task published",
		zap.String("chunk_id", task.ChunkID),
		zap.Int("size", len(body)))

	return nil
}

// Consume feeds queued tasks to handler until ctx is done or the
// delivery channel dies. A handler error requeues the message; the
// handler persists permanent failures itself and returns nil for them.
func (b *Broker) Consume(ctx context.Context, handler func(context.Context, []byte) error) error {
	if err := b.ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := b.ch.Consume(TranscribeQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Info("Consuming chunk tasks", zap.String("queue", TranscribeQueue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}

			if err := handler(ctx, msg.Body); err != nil {
				logger.Error("Failed to handle message",
					zap.Error(err),
					zap.String("message_id", msg.MessageId))
				msg.Nack(false, true)
			} else {
				msg.Ack(false)
			}
		}
	}
}

func (b *Broker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
