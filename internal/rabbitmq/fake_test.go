package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeDialer produces fake connections and can be told to fail.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	dials int
	conns []*fakeConnection
}

func (d *fakeDialer) dial(url string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConnection()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) succeed() {
	d.fail(nil)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeConnection struct {
	mu        sync.Mutex
	channels  []*fakeChannel
	closeCh   chan *amqp.Error
	blockedCh chan amqp.Blocking
	closed    bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{}
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := newFakeChannel()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCh = receiver
	return receiver
}

func (c *fakeConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockedCh = receiver
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// drop simulates an asynchronous connection loss event from the broker.
func (c *fakeConnection) drop(err *amqp.Error) {
	c.mu.Lock()
	ch := c.closeCh
	c.mu.Unlock()
	ch <- err
}

// block simulates a broker flow-control notification.
func (c *fakeConnection) block(active bool, reason string) {
	c.mu.Lock()
	ch := c.blockedCh
	c.mu.Unlock()
	ch <- amqp.Blocking{Active: active, Reason: reason}
}

func (c *fakeConnection) lastChannel() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	consumed   map[string]chan amqp.Delivery
	published  []fakePublish
	closed     bool
	consumeErr error
	publishErr error
}

type fakePublish struct {
	queue string
	body  []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{consumed: make(map[string]chan amqp.Delivery)}
}

func (ch *fakeChannel) DeclareQueue(name string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.declared = append(ch.declared, name)
	return nil
}

func (ch *fakeChannel) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.consumeErr != nil {
		return nil, ch.consumeErr
	}
	if _, ok := ch.consumed[queue]; ok {
		return nil, errors.New("queue already consumed on this channel")
	}
	deliveries := make(chan amqp.Delivery, 16)
	ch.consumed[queue] = deliveries
	return deliveries, nil
}

func (ch *fakeChannel) PublishPersistent(ctx context.Context, queue string, body []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.publishErr != nil {
		return ch.publishErr
	}
	ch.published = append(ch.published, fakePublish{queue: queue, body: body})
	return nil
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

// deliver pushes one delivery into the consumer bound to queue.
func (ch *fakeChannel) deliver(queue string, d amqp.Delivery) {
	ch.mu.Lock()
	deliveries := ch.consumed[queue]
	ch.mu.Unlock()
	deliveries <- d
}

func (ch *fakeChannel) consumedQueues() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	queues := make([]string, 0, len(ch.consumed))
	for q := range ch.consumed {
		queues = append(queues, q)
	}
	return queues
}

func (ch *fakeChannel) declaredQueues() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.declared...)
}

func (ch *fakeChannel) publishedMessages() []fakePublish {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]fakePublish(nil), ch.published...)
}

// manualTimer captures armed reconnect timers so tests can fire them
// deterministically instead of waiting on the clock.
type manualTimer struct {
	mu      sync.Mutex
	pending func()
	armed   int
	stopped int
}

type manualTimerHandle struct {
	owner *manualTimer
}

func (h *manualTimerHandle) Stop() bool {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	h.owner.stopped++
	return true
}

func (m *manualTimer) timerFunc(d time.Duration, fn func()) retryTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = fn
	m.armed++
	return &manualTimerHandle{owner: m}
}

// fire runs the pending timer callback synchronously.
func (m *manualTimer) fire() {
	m.mu.Lock()
	fn := m.pending
	m.pending = nil
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *manualTimer) armedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

func (m *manualTimer) hasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}
