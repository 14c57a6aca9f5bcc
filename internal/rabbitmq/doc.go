// Package rabbitmq owns the single broker connection shared by the bridge.
//
// This package includes:
//   - ConnectionManager: the connection state machine with backoff reconnection
//   - ConsumerRegistry: named consumer bindings re-attached after reconnects
//   - Publisher: durable publishing on the shared channel
//   - Connection/Channel: narrow interfaces over the amqp091 driver so the
//     core can be exercised against a fake broker in tests
//
// Connection-layer errors never escape this package as exceptions to
// message-processing code; they drive state transitions and logs. The only
// error surfaced to callers is from the initial Connect itself.
package rabbitmq
