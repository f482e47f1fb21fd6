package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boostpanel/internal/shared/events"
)

// Handler processes one delivered event. Returning an error requeues the
// event on the topic retry channel until the attempt budget is spent.
type Handler func(ctx context.Context, event events.Envelope) error

// Bus is the event pipeline contract shared by the in-process and AMQP drivers.
type Bus interface {
	Publish(ctx context.Context, topic string, event events.Envelope) error
	Subscribe(ctx context.Context, topic string, consumerGroup string, handler Handler) error
}

// DeadLetterTopic names the per-topic dead-letter channel.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

func isDeadLetterTopic(topic string) bool {
	return strings.HasSuffix(topic, ".dlq")
}

type delivery struct {
	event   events.Envelope
	attempt int
}

// InProcess is the event bus adapter used by the worker runtime.
// Publish/subscribe stays in-process while runtime wiring is finalized for
// external brokers; retry and dead-letter semantics match the AMQP driver.
type InProcess struct {
	mu          sync.RWMutex
	subscribers map[string][]chan delivery

	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

func NewInProcess(maxAttempts int, retryDelay time.Duration, logger *slog.Logger) *InProcess {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &InProcess{
		subscribers: make(map[string][]chan delivery),
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		Logger:      logger,
	}
}

func (b *InProcess) Publish(ctx context.Context, topic string, event events.Envelope) error {
	return b.deliver(ctx, topic, delivery{event: event, attempt: 1})
}

func (b *InProcess) deliver(ctx context.Context, topic string, d delivery) error {
	b.mu.RLock()
	subs := append([]chan delivery(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- d:
		default:
			// A full subscriber channel must not lose the event: route it to
			// the dead-letter channel for remediation. Overflow on a dead
			// letter channel itself is dropped to stop the recursion.
			if b.Logger != nil {
				b.Logger.Warn("subscriber channel full",
					"event", "bus_publish_overflow",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", topic,
					"event_id", d.event.EventID,
				)
			}
			if !isDeadLetterTopic(topic) {
				_ = b.deliver(ctx, DeadLetterTopic(topic), delivery{event: d.event, attempt: 1})
			}
		}
	}

	if b.Logger != nil {
		b.Logger.Info("event published",
			"event", "bus_publish",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"event_id", d.event.EventID,
			"event_type", d.event.EventType,
			"attempt", d.attempt,
		)
	}
	return nil
}

func (b *InProcess) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler Handler,
) error {
	ch := make(chan delivery, 128)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(topic, ch)
				return
			case d := <-ch:
				if err := handler(ctx, d.event); err != nil {
					b.handleFailure(ctx, topic, consumerGroup, d, err)
				}
			}
		}
	}()
	return nil
}

// handleFailure requeues the event with an increasing delay. Once the attempt
// budget is spent the event is routed to the topic dead-letter channel for
// manual remediation instead of being retried indefinitely.
func (b *InProcess) handleFailure(
	ctx context.Context,
	topic string,
	consumerGroup string,
	d delivery,
	cause error,
) {
	if b.Logger != nil {
		b.Logger.Error("consumer handler failed",
			"event", "bus_consume_failed",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"consumer_group", consumerGroup,
			"event_id", d.event.EventID,
			"event_type", d.event.EventType,
			"attempt", d.attempt,
			"error", cause.Error(),
		)
	}

	if d.attempt >= b.MaxAttempts {
		if b.Logger != nil {
			b.Logger.Error("event routed to dead letter",
				"event", "bus_dead_letter",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"event_id", d.event.EventID,
				"attempts", d.attempt,
			)
		}
		_ = b.deliver(ctx, DeadLetterTopic(topic), delivery{event: d.event, attempt: 1})
		return
	}

	next := delivery{event: d.event, attempt: d.attempt + 1}
	delay := b.RetryDelay * time.Duration(d.attempt)
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			_ = b.deliver(ctx, topic, next)
		}
	}()
}

func (b *InProcess) removeSubscriber(topic string, target chan delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]chan delivery, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[topic] = filtered
}

// DedupStore tracks processed message ids for the dedup window.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// Deduped wraps a handler with message-id deduplication. Replays inside the
// window are acknowledged without effect; replays after expiry run as a fresh
// attempt, which downstream state-machine guards make safe. The id is marked
// only after the handler succeeds, so a crash mid-handling redelivers rather
// than losing the event.
func Deduped(store DedupStore, ttl time.Duration, consumerGroup string, handler Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event events.Envelope) error {
		key := fmt.Sprintf("dedup:%s:%s", consumerGroup, event.EventID)
		seen, err := store.Seen(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			if logger != nil {
				logger.Info("duplicate event skipped",
					"event", "bus_duplicate_skipped",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"consumer_group", consumerGroup,
					"event_id", event.EventID,
					"event_type", event.EventType,
				)
			}
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.Mark(ctx, key, ttl)
	}
}
