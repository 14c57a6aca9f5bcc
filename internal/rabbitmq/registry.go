package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes a single delivery. The handler owns acknowledgment
// through the delivery itself and runs to completion before the next
// delivery for that consumer is dispatched.
type Handler func(ctx context.Context, delivery amqp.Delivery) error

// consumerBinding is one named queue subscription.
type consumerBinding struct {
	name    string
	queue   string
	handler Handler
}

// ConsumerRegistry holds named consumer bindings and re-attaches all of them
// to a fresh channel after every successful connect. Registration does not
// touch the broker; binding happens in AttachAll.
type ConsumerRegistry struct {
	logger *slog.Logger

	mu       sync.Mutex
	bindings []consumerBinding
	attached Channel // last channel consumers were bound to
}

// NewConsumerRegistry creates an empty registry.
func NewConsumerRegistry(logger *slog.Logger) *ConsumerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerRegistry{logger: logger}
}

// Register records a named consumer binding for queue. It returns
// ErrConsumerExists if name is already registered.
func (r *ConsumerRegistry) Register(name, queue string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bindings {
		if b.name == name {
			return ErrConsumerExists
		}
	}

	r.bindings = append(r.bindings, consumerBinding{
		name:    name,
		queue:   queue,
		handler: handler,
	})
	return nil
}

// AttachAll binds every registered handler to ch. Calling it again with the
// same still-open channel is a no-op, which guards against double-binding
// and duplicate delivery.
func (r *ConsumerRegistry) AttachAll(ctx context.Context, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attached == ch && !ch.IsClosed() {
		r.logger.Debug("consumers already attached to channel, skipping")
		return nil
	}

	for _, b := range r.bindings {
		deliveries, err := ch.Consume(b.queue, b.name)
		if err != nil {
			return &ConsumerError{
				Queue:       b.queue,
				ConsumerTag: b.name,
				Op:          "attach",
				Err:         err,
				Timestamp:   time.Now(),
			}
		}
		go r.consumeLoop(ctx, b, deliveries)

		r.logger.Info("consumer attached",
			"consumer", b.name,
			"queue", b.queue)
	}

	r.attached = ch
	return nil
}

// Names returns the registered consumer names in registration order.
func (r *ConsumerRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.bindings))
	for _, b := range r.bindings {
		names = append(names, b.name)
	}
	return names
}

// consumeLoop dispatches deliveries to the handler one at a time. The loop
// ends when the delivery channel closes (channel teardown) or ctx is
// cancelled (manager shutdown). A handler error is logged and never stops
// the loop.
func (r *ConsumerRegistry) consumeLoop(ctx context.Context, b consumerBinding, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("consumer stopped", "consumer", b.name)
			return

		case d, ok := <-deliveries:
			if !ok {
				r.logger.Warn("delivery channel closed",
					"consumer", b.name,
					"queue", b.queue)
				return
			}
			if err := b.handler(ctx, d); err != nil {
				r.logger.Error("message handler failed",
					"error", err,
					"consumer", b.name,
					"queue", b.queue,
					"messageId", d.MessageId)
			}
		}
	}
}
