package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection is the narrow slice of an AMQP connection the bridge uses.
// Wrapping the driver behind this interface lets the connection manager and
// its tests run against a fake broker.
type Connection interface {
	// Channel opens a new channel on the connection.
	Channel() (Channel, error)

	// NotifyClose registers a listener for connection-level close events.
	// The channel receives nil on graceful close.
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error

	// NotifyBlocked registers a listener for broker flow-control events.
	NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking

	IsClosed() bool
	Close() error
}

// Channel is the narrow slice of an AMQP channel the bridge uses. Message
// acknowledgment happens through the delivery itself (amqp.Delivery carries
// its Acknowledger), so the interface stays small.
type Channel interface {
	// DeclareQueue declares a durable, non-exclusive work queue. Declaration
	// is idempotent on the broker side.
	DeclareQueue(name string) error

	// Consume starts delivering messages from queue to the returned channel.
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)

	// PublishPersistent publishes body to queue with the persistent delivery
	// mode so the message survives a broker restart.
	PublishPersistent(ctx context.Context, queue string, body []byte) error

	IsClosed() bool
	Close() error
}

// DialFunc opens a broker connection. Production wiring uses Dial; tests
// substitute a fake.
type DialFunc func(url string) (Connection, error)

// Dial connects to the broker at url using the amqp091 driver.
func Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	return c.conn.NotifyBlocked(receiver)
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) DeclareQueue(name string) error {
	_, err := c.ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	return err
}

func (c *amqpChannel) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(
		queue,
		consumerTag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
}

func (c *amqpChannel) PublishPersistent(ctx context.Context, queue string, body []byte) error {
	return c.ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (c *amqpChannel) IsClosed() bool {
	return c.ch.IsClosed()
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}
