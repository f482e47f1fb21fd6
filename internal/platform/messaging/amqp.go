package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"boostpanel/internal/shared/events"
)

const amqpAttemptHeader = "x-delivery-attempt"

// AMQP is the RabbitMQ bus driver. Topics map to durable queues; failed
// deliveries are republished to a per-topic retry queue whose TTL grows with
// the attempt count, and exhausted messages land on <topic>.dlq.
type AMQP struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool

	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

func NewAMQP(url string, maxAttempts int, retryDelay time.Duration, logger *slog.Logger) (*AMQP, error) {
	var conn *amqp.Connection
	var err error

	// Retry connection because the broker takes time to start alongside us.
	for i := 0; i < 10; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if logger != nil {
			logger.Warn("amqp connect retry",
				"event", "amqp_connect_retry",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"attempt", i+1,
			)
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &AMQP{
		conn:        conn,
		channel:     ch,
		declared:    make(map[string]bool),
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		Logger:      logger,
	}, nil
}

func (b *AMQP) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// declareTopic sets up the work queue, its retry queue (dead-lettering back
// to the work queue after the per-message TTL) and the dead-letter queue.
func (b *AMQP) declareTopic(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.declared[topic] {
		return nil
	}

	if _, err := b.channel.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if _, err := b.channel.QueueDeclare(topic+".retry", true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": topic,
	}); err != nil {
		return fmt.Errorf("declare retry queue %s: %w", topic, err)
	}
	if _, err := b.channel.QueueDeclare(DeadLetterTopic(topic), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %s: %w", topic, err)
	}
	b.declared[topic] = true
	return nil
}

func (b *AMQP) Publish(ctx context.Context, topic string, event events.Envelope) error {
	if err := b.declareTopic(topic); err != nil {
		return err
	}
	return b.publishRaw(ctx, topic, event, 1, 0)
}

func (b *AMQP) publishRaw(ctx context.Context, queue string, event events.Envelope, attempt int, ttl time.Duration) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Body:         body,
		Headers:      amqp.Table{amqpAttemptHeader: int32(attempt)},
	}
	if ttl > 0 {
		publishing.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}
	if err := b.channel.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

func (b *AMQP) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler Handler,
) error {
	if err := b.declareTopic(topic); err != nil {
		return err
	}

	deliveries, err := b.channel.Consume(topic, consumerGroup, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				b.handleDelivery(ctx, topic, consumerGroup, msg, handler)
			}
		}
	}()
	return nil
}

// handleDelivery acks only after the handler finished, so a crash between
// mutation and ack redelivers the message (at-least-once).
func (b *AMQP) handleDelivery(
	ctx context.Context,
	topic string,
	consumerGroup string,
	msg amqp.Delivery,
	handler Handler,
) {
	var event events.Envelope
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		if b.Logger != nil {
			b.Logger.Error("amqp envelope decode failed",
				"event", "amqp_decode_failed",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"message_id", msg.MessageId,
				"error", err.Error(),
			)
		}
		_ = b.publishRaw(ctx, DeadLetterTopic(topic), events.Envelope{EventID: msg.MessageId}, 1, 0)
		_ = msg.Ack(false)
		return
	}

	attempt := 1
	if raw, ok := msg.Headers[amqpAttemptHeader]; ok {
		if n, ok := raw.(int32); ok && n > 0 {
			attempt = int(n)
		}
	}

	err := handler(ctx, event)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	if b.Logger != nil {
		b.Logger.Error("consumer handler failed",
			"event", "amqp_consume_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"consumer_group", consumerGroup,
			"event_id", event.EventID,
			"attempt", attempt,
			"error", err.Error(),
		)
	}

	if attempt >= b.MaxAttempts {
		if pubErr := b.publishRaw(ctx, DeadLetterTopic(topic), event, 1, 0); pubErr != nil {
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	ttl := b.RetryDelay * time.Duration(attempt)
	if pubErr := b.publishRaw(ctx, topic+".retry", event, attempt+1, ttl); pubErr != nil {
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
