package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Status is the connection state machine status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	// StatusCircuitOpen is reserved for a future breaker; no transition
	// currently enters it.
	StatusCircuitOpen Status = "circuit_open"
)

// Health is a read-only projection of the connection state.
type Health struct {
	Status              Status     `json:"status"`
	Message             string     `json:"message"`
	LastConnectedAt     *time.Time `json:"lastConnectedAt,omitempty"`
	LastErrorAt         *time.Time `json:"lastErrorAt,omitempty"`
	ReconnectAttempts   int        `json:"reconnectAttempts"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	MaxAttempts         int        `json:"maxAttempts"`
}

// retryTimer is the armed-timer handle. Tests substitute a manual trigger.
type retryTimer interface {
	Stop() bool
}

// timerFunc arms a one-shot timer. The default wraps time.AfterFunc.
type timerFunc func(d time.Duration, fn func()) retryTimer

func afterFunc(d time.Duration, fn func()) retryTimer {
	return time.AfterFunc(d, fn)
}

// ConnectionManager owns the single broker connection and channel shared by
// every consumer and the publisher. It drives the reconnection state machine:
// a lost connection transitions to reconnecting and arms a single backoff
// timer; at most one reconnect attempt is ever in flight.
type ConnectionManager struct {
	url      string
	queue    string
	dial     DialFunc
	policy   RetryPolicy
	registry *ConsumerRegistry
	logger   *slog.Logger
	newTimer timerFunc

	baseCtx context.Context
	cancel  context.CancelFunc

	mu                  sync.Mutex
	status              Status
	conn                Connection
	channel             Channel
	lastConnectedAt     *time.Time
	lastErrorAt         *time.Time
	reconnectAttempts   int
	consecutiveFailures int
	timer               retryTimer
	closing             bool
	gen                 uint64 // invalidates watchers from torn-down connections
}

// ManagerOption configures the ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithRetryPolicy sets the reconnection backoff policy.
func WithRetryPolicy(policy RetryPolicy) ManagerOption {
	return func(cm *ConnectionManager) {
		cm.policy = policy
	}
}

// WithDialFunc sets the broker dialer. Tests use this to inject a fake.
func WithDialFunc(dial DialFunc) ManagerOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// WithTimerFunc sets the timer factory used to arm reconnect timers.
func WithTimerFunc(fn timerFunc) ManagerOption {
	return func(cm *ConnectionManager) {
		cm.newTimer = fn
	}
}

// NewConnectionManager creates a manager for the given broker URL and work
// queue. Consumers registered on registry are attached after every successful
// connect. The manager starts disconnected; call Connect to establish.
func NewConnectionManager(url, queue string, registry *ConsumerRegistry, options ...ManagerOption) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	cm := &ConnectionManager{
		url:      url,
		queue:    queue,
		dial:     Dial,
		policy:   DefaultRetryPolicy(),
		registry: registry,
		logger:   slog.Default(),
		newTimer: afterFunc,
		baseCtx:  ctx,
		cancel:   cancel,
		status:   StatusDisconnected,
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the connection and channel, declares the work queue,
// and attaches registered consumers. It is idempotent: calling it while
// connected is a no-op. On failure the manager stays disconnected and the
// error is returned to the caller; no retry is scheduled for the initial
// attempt.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.closing {
		cm.mu.Unlock()
		return ErrAlreadyClosed
	}
	if cm.status == StatusConnected {
		cm.mu.Unlock()
		return nil
	}
	cm.status = StatusConnecting
	cm.mu.Unlock()

	if err := cm.establish(); err != nil {
		cm.mu.Lock()
		cm.status = StatusDisconnected
		cm.consecutiveFailures++
		now := time.Now()
		cm.lastErrorAt = &now
		attempts := cm.consecutiveFailures
		cm.mu.Unlock()

		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  attempts,
		}
	}

	return nil
}

// establish performs one full connection attempt: dial, open channel, declare
// the durable work queue, hook lifecycle listeners, attach consumers. On
// success the state is connected and both failure counters are reset.
func (cm *ConnectionManager) establish() error {
	conn, err := cm.dial(cm.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.DeclareQueue(cm.queue); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	cm.mu.Lock()
	if cm.closing {
		cm.mu.Unlock()
		ch.Close()
		conn.Close()
		return ErrAlreadyClosed
	}
	cm.gen++
	gen := cm.gen
	cm.conn = conn
	cm.channel = ch
	cm.status = StatusConnected
	now := time.Now()
	cm.lastConnectedAt = &now
	cm.reconnectAttempts = 0
	cm.consecutiveFailures = 0
	cm.mu.Unlock()

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	blockedCh := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go cm.watch(gen, closeCh, blockedCh)

	if cm.registry != nil {
		if err := cm.registry.AttachAll(cm.baseCtx, ch); err != nil {
			// Roll the connection back so the caller sees a clean failure.
			cm.mu.Lock()
			cm.gen++
			cm.conn = nil
			cm.channel = nil
			cm.mu.Unlock()
			ch.Close()
			conn.Close()
			return err
		}
	}

	cm.logger.Info("connected to broker",
		"url", SanitizeURL(cm.url),
		"queue", cm.queue)

	return nil
}

// watch monitors one connection generation for close and flow-control events.
// Blocked and unblocked notifications are backpressure signals, not failures;
// they are logged and cause no state transition.
func (cm *ConnectionManager) watch(gen uint64, closeCh <-chan *amqp.Error, blockedCh <-chan amqp.Blocking) {
	for {
		select {
		case b, ok := <-blockedCh:
			if !ok {
				blockedCh = nil
				continue
			}
			if b.Active {
				cm.logger.Warn("broker blocked connection", "reason", b.Reason)
			} else {
				cm.logger.Info("broker unblocked connection")
			}

		case amqpErr, ok := <-closeCh:
			var cause error
			if ok && amqpErr != nil {
				cause = amqpErr
			}
			cm.onConnectionLost(gen, cause)
			return
		}
	}
}

// onConnectionLost handles an asynchronous connection-error or close event.
func (cm *ConnectionManager) onConnectionLost(gen uint64, cause error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Ignore events from connections already torn down, events arriving
	// after a deliberate shutdown, and duplicates while reconnecting.
	if cm.closing || gen != cm.gen || cm.status == StatusReconnecting {
		return
	}

	cm.logger.Error("broker connection lost", "error", cause)

	cm.status = StatusReconnecting
	now := time.Now()
	cm.lastErrorAt = &now
	cm.conn = nil
	cm.channel = nil

	cm.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer. A previously pending
// timer is cancelled first, so at most one timer is live at any instant.
// Callers must hold cm.mu.
func (cm *ConnectionManager) scheduleReconnectLocked() {
	if cm.timer != nil {
		cm.timer.Stop()
		cm.timer = nil
	}

	if cm.policy.Exhausted(cm.reconnectAttempts) {
		cm.logger.Error("reconnection attempts exhausted, giving up",
			"attempts", cm.reconnectAttempts,
			"maxAttempts", cm.policy.MaxAttempts)
		cm.status = StatusDisconnected
		return
	}

	delay := cm.policy.Delay(cm.reconnectAttempts)
	cm.logger.Info("scheduling reconnect",
		"attempt", cm.reconnectAttempts+1,
		"delay", delay)
	cm.timer = cm.newTimer(delay, cm.attemptReconnect)
}

// attemptReconnect runs when the reconnect timer fires.
func (cm *ConnectionManager) attemptReconnect() {
	cm.mu.Lock()
	if cm.closing {
		cm.mu.Unlock()
		return
	}
	cm.timer = nil
	cm.reconnectAttempts++
	attempt := cm.reconnectAttempts
	downSince := cm.lastErrorAt
	cm.mu.Unlock()

	if err := cm.establish(); err != nil {
		cm.mu.Lock()
		cm.status = StatusReconnecting
		cm.consecutiveFailures++
		now := time.Now()
		cm.lastErrorAt = &now
		cm.logger.Error("reconnect attempt failed",
			"error", err,
			"attempt", attempt)
		cm.scheduleReconnectLocked()
		cm.mu.Unlock()
		return
	}

	if downSince != nil {
		cm.logger.Info("reconnected to broker",
			"attempts", attempt,
			"downtime", time.Since(*downSince))
	}
}

// Channel returns the current live channel, or ErrNotConnected if no
// successful connect has completed.
func (cm *ConnectionManager) Channel() (Channel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.status != StatusConnected || cm.channel == nil {
		return nil, ErrNotConnected
	}
	if cm.channel.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.channel, nil
}

// Status returns the current state machine status.
func (cm *ConnectionManager) Status() Status {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.status
}

// GetHealth returns a read-only projection of the connection state. It never
// mutates state.
func (cm *ConnectionManager) GetHealth() Health {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	h := Health{
		Status:              cm.status,
		LastConnectedAt:     cm.lastConnectedAt,
		LastErrorAt:         cm.lastErrorAt,
		ReconnectAttempts:   cm.reconnectAttempts,
		ConsecutiveFailures: cm.consecutiveFailures,
		MaxAttempts:         cm.policy.MaxAttempts,
	}

	switch cm.status {
	case StatusConnected:
		h.Message = "connected to broker"
	case StatusReconnecting:
		h.Message = fmt.Sprintf("reconnecting, %d attempts so far", cm.reconnectAttempts)
	case StatusConnecting:
		h.Message = "connection attempt in progress"
	default:
		h.Message = "not connected"
	}

	return h
}

// Close shuts the manager down. The shutting-down flag is set first so close
// events raised by this very teardown do not re-enter the reconnection path.
// Any pending retry timer is cancelled, then the channel and connection are
// closed in that order.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closing {
		cm.mu.Unlock()
		return nil
	}
	cm.closing = true
	if cm.timer != nil {
		cm.timer.Stop()
		cm.timer = nil
	}
	ch := cm.channel
	conn := cm.conn
	cm.channel = nil
	cm.conn = nil
	cm.status = StatusDisconnected
	cm.mu.Unlock()

	cm.cancel()

	if ch != nil && !ch.IsClosed() {
		if err := ch.Close(); err != nil {
			cm.logger.Warn("error closing channel", "error", err)
		}
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			return err
		}
	}

	cm.logger.Info("connection manager shut down")
	return nil
}
