package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/threadline/threadline/internal/reliability"
)

// BridgeConsumer is the handler bound to the work queue. It maps processing
// outcomes onto the acknowledgment policy:
//
//   - success: acknowledge
//   - structural failure: dead-letter via the sink, then acknowledge
//   - transient failure: record via the sink, then acknowledge
//
// Every outcome acknowledges without requeue. Recovery for transient
// failures is an operator replay from the failure ledger; broker-level
// requeue loops are deliberately avoided.
type BridgeConsumer struct {
	queue     string
	processor *Processor
	sink      *reliability.Sink
	logger    *slog.Logger
}

// NewBridgeConsumer creates the consumer for queue.
func NewBridgeConsumer(queue string, processor *Processor, sink *reliability.Sink, logger *slog.Logger) *BridgeConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeConsumer{
		queue:     queue,
		processor: processor,
		sink:      sink,
		logger:    logger,
	}
}

// Handle processes one delivery to completion: outcome decided, failure
// recorded if terminal, acknowledgment issued. It never returns an error
// that would stop the consumption loop, and a panic inside processing is
// contained to the message that caused it.
func (c *BridgeConsumer) Handle(ctx context.Context, delivery amqp.Delivery) error {
	outcome, procErr := c.process(ctx, delivery.Body)

	switch outcome {
	case OutcomeStructuralFailure:
		c.sink.Record(ctx, c.queue, delivery.Body, procErr, "structural", reliability.StatusDeadLetter, 0)
	case OutcomeTransientFailure:
		c.sink.Record(ctx, c.queue, delivery.Body, procErr, "transient", reliability.StatusFailed, 0)
	}

	if procErr != nil {
		c.logger.Error("message processing failed",
			"error", procErr,
			"outcome", outcome.String(),
			"queue", c.queue)
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to acknowledge delivery",
			"error", err,
			"queue", c.queue,
			"deliveryTag", delivery.DeliveryTag)
	}

	return nil
}

func (c *BridgeConsumer) process(ctx context.Context, body []byte) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeTransientFailure
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()
	return c.processor.Handle(ctx, body)
}
