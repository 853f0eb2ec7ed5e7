// Package bus provides the in-process publish/subscribe abstraction the
// stream processor and decision sink use in place of an external message
// broker. No repo in this project's dependency corpus imports a broker
// client (Kafka, NATS, SQS, ...); an in-process, channel-backed bus is
// the honest stand-in for spec.md §6.1/§6.2's ingest/publish boundary,
// generalized from the teacher's internal/realtime broadcast hub to a
// general-purpose keyed topic rather than a single fixed event feed.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Topic names the three logical channels the pipeline moves messages
// through.
type Topic string

const (
	// Inbound carries raw transaction payloads awaiting scoring.
	Inbound Topic = "inbound"
	// Outbound carries emitted decisions for downstream consumers (the
	// admin live feed, in this repo).
	Outbound Topic = "outbound"
	// DeadLetter carries inbound messages that failed schema validation
	// or otherwise could not be processed, per spec.md §6.1.
	DeadLetter Topic = "dead-letter"
)

// Message is one envelope moving through the bus. Key is the partition
// key — the stream processor publishes with the transaction's user ID so
// that a Bus implementation with per-key ordering guarantees preserves
// per-user order; the in-process Bus here delivers in publish order
// within a topic regardless of key, since it has only one subscriber
// goroutine per topic in this pipeline.
type Message struct {
	Topic         Topic
	Key           string
	Payload       []byte
	CorrelationID string
	PublishedAt   time.Time

	// DeliveryAttempt counts redeliveries of this message, starting at 0
	// for the first delivery. The stream processor increments it and
	// re-publishes to Inbound when a decision sink failure means the
	// message must not be considered acknowledged (spec.md §4.6 step 10).
	DeliveryAttempt int
}

// DeadLetterRecord is the payload published to the DeadLetter topic.
type DeadLetterRecord struct {
	Reason     string    `json:"reason"`
	RawPayload []byte    `json:"rawPayload"`
	Err        string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Bus is the pub/sub contract the stream processor and sink depend on.
// Implementations must be safe for concurrent Publish and Subscribe.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(topic Topic) (msgs <-chan Message, cancel func())
}

// InProcessBus is a Bus backed by one buffered channel per topic, fanned
// out to every current subscriber of that topic. It is not durable: a
// message published with no active subscriber on its topic is dropped,
// same tradeoff as the teacher's realtime.Hub broadcast channel.
type InProcessBus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan Message
	bufferSize  int
	logger      *slog.Logger
}

// New creates an InProcessBus whose per-subscriber channels are sized
// bufferSize; when a slow subscriber's channel is full, the message being
// published is dropped for that subscriber rather than blocking the
// publisher, and the messages already buffered are kept.
func New(bufferSize int, logger *slog.Logger) *InProcessBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &InProcessBus{
		subscribers: make(map[Topic][]chan Message),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

func (b *InProcessBus) Publish(ctx context.Context, msg Message) error {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}

	b.mu.RLock()
	subs := b.subscribers[msg.Topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.logger.Warn("bus: subscriber channel full, dropping message", "topic", msg.Topic)
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel for topic. The returned
// cancel func unregisters and closes the channel; callers must call it
// exactly once when done reading.
func (b *InProcessBus) Subscribe(topic Topic) (<-chan Message, func()) {
	ch := make(chan Message, b.bufferSize)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		for i, c := range subs {
			if c == ch {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// SubscriberCount reports how many active subscribers a topic has, used
// by tests.
func (b *InProcessBus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
