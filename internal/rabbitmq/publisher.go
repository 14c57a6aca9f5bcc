package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Publisher enqueues durable messages on the shared channel owned by the
// ConnectionManager. Destination queues are declared on demand; messages are
// sent with the persistent delivery flag so they survive a broker restart.
type Publisher struct {
	manager *ConnectionManager
	logger  *slog.Logger

	mu          sync.Mutex
	declared    map[string]bool
	declaredFor Channel
}

// NewPublisher creates a publisher backed by manager's channel.
func NewPublisher(manager *ConnectionManager, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		manager:  manager,
		logger:   logger,
		declared: make(map[string]bool),
	}
}

// Publish serializes payload as JSON and enqueues it durably on queue. It
// returns ErrNotConnected if called before Connect has completed
// successfully.
func (p *Publisher) Publish(ctx context.Context, queue string, payload any) error {
	ch, err := p.manager.Channel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Queue: queue, Err: err, Timestamp: time.Now()}
	}

	if err := p.declareOnce(ch, queue); err != nil {
		return &PublishError{Queue: queue, Err: err, Timestamp: time.Now()}
	}

	if err := ch.PublishPersistent(ctx, queue, body); err != nil {
		return &PublishError{Queue: queue, Err: err, Timestamp: time.Now()}
	}

	p.logger.Debug("message published", "queue", queue, "bytes", len(body))
	return nil
}

// declareOnce declares queue durable the first time it is seen on the
// current channel. The cache resets whenever the channel changes, since a
// fresh channel may belong to a restarted broker.
func (p *Publisher) declareOnce(ch Channel, queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declaredFor != ch {
		p.declared = make(map[string]bool)
		p.declaredFor = ch
	}
	if p.declared[queue] {
		return nil
	}
	if err := ch.DeclareQueue(queue); err != nil {
		return err
	}
	p.declared[queue] = true
	return nil
}
