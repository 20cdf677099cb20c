package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
)

// Config holds push connection settings
type Config struct {
	URL            string
	ReconnectDelay time.Duration // default: 3 seconds
	MaxFailures    int           // default: 5
	DialTimeout    time.Duration // default: 10 seconds
	BufferSize     int           // default: 64
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}

// InboundEvent is a push message received while connected.
type InboundEvent struct {
	Type string
	Data json.RawMessage
}

// Connection owns one push connection and its authenticate handshake, and
// supervises recovery after transport failure. Failures never come back as
// return values; they are observed through State, Err and Watch.
type Connection struct {
	cfg    Config
	scope  session.Scope
	dialer Dialer
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	lastErr    error
	conn       Conn
	epoch      uint64 // bumped per attempt and on teardown; stale goroutines compare against it
	failures   int
	timer      *time.Timer
	cancelDial context.CancelFunc
	watchers   map[chan StateChange]struct{}
	subs       map[chan InboundEvent]struct{}
}

// NewConnection creates a connection manager in the Disconnected state.
func NewConnection(cfg Config, scope session.Scope, dialer Dialer, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Connection{
		cfg:      cfg.withDefaults(),
		scope:    scope,
		dialer:   dialer,
		logger:   logger.With("component", "push", "role", string(scope.Role)),
		state:    StateDisconnected,
		watchers: make(map[chan StateChange]struct{}),
		subs:     make(map[chan InboundEvent]struct{}),
	}
}

// Start begins connecting. Without a credential there is no session to
// serve and the manager silently stays Disconnected.
func (c *Connection) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.scope.HasCredential() {
		c.logger.Debug("no credential, push channel stays disconnected")
		return
	}
	if c.state != StateDisconnected {
		return
	}

	c.failures = 0
	c.connectLocked()
}

// Reconnect is a manual retry. It is honored after the manager settled in
// Failed and short-circuits a pending reconnect delay.
func (c *Connection) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.scope.HasCredential() {
		return
	}
	if c.state != StateFailed && c.state != StateReconnecting {
		return
	}

	c.stopTimerLocked()
	c.failures = 0
	c.connectLocked()
}

// Close tears the connection down immediately. Pending timers are
// discarded and anything the peer sends afterwards is ignored.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.stopTimerLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.closeConnLocked()
	c.failures = 0

	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected, nil)
	}
}

// State returns the current connection state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure behind the most recent transition, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Scope returns the session scope the connection authenticates with.
func (c *Connection) Scope() session.Scope {
	return c.scope
}

// Watch subscribes to state transitions. Slow watchers miss transitions
// rather than stall the manager; State is always authoritative.
func (c *Connection) Watch() (<-chan StateChange, func()) {
	ch := make(chan StateChange, c.cfg.BufferSize)

	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.watchers, ch)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribe registers for inbound push events. Events are delivered only
// while Connected.
func (c *Connection) Subscribe() (<-chan InboundEvent, func()) {
	ch := make(chan InboundEvent, c.cfg.BufferSize)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, ch)
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Connection) connectLocked() {
	c.epoch++
	epoch := c.epoch

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	c.cancelDial = cancel
	c.setStateLocked(StateConnecting, nil)

	go c.run(ctx, cancel, epoch)
}

func (c *Connection) run(ctx context.Context, cancel context.CancelFunc, epoch uint64) {
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.cancelDial = nil
	if err != nil {
		c.failLocked(fmt.Errorf("connect: %w", err))
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.setStateLocked(StateAuthenticating, nil)
	c.mu.Unlock()

	msg, err := notification.NewPushMessage(notification.EventAuthenticate, notification.AuthenticatePayload{
		Token: c.scope.Credential,
	})
	if err == nil {
		err = conn.WriteJSON(msg)
	}
	if err != nil {
		c.onTransportError(epoch, fmt.Errorf("send authenticate: %w", err))
		return
	}

	c.readLoop(epoch, conn)
}

func (c *Connection) readLoop(epoch uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onTransportError(epoch, fmt.Errorf("disconnected: %w", err))
			return
		}

		var msg notification.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.logger.Debug("dropping malformed push frame", "error", err)
			continue
		}

		if !c.dispatch(epoch, msg) {
			return
		}
	}
}

// dispatch applies one frame. It returns false when the read loop must stop.
func (c *Connection) dispatch(epoch uint64, msg notification.PushMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}

	switch msg.Event {
	case notification.EventAuthSuccess:
		if c.state != StateAuthenticating {
			return true
		}
		c.failures = 0
		c.setStateLocked(StateConnected, nil)
		c.logger.Info("push channel connected")

	case notification.EventAuthError:
		var payload notification.AuthErrorPayload
		_ = json.Unmarshal(msg.Data, &payload)

		c.epoch++
		c.closeConnLocked()
		c.setStateLocked(StateFailed, fmt.Errorf("%w: %s", ErrAuthRejected, payload.Message))
		c.logger.Warn("push channel authentication rejected", "message", payload.Message)
		return false

	default:
		if c.state != StateConnected {
			return true
		}
		event := InboundEvent{Type: msg.Event, Data: msg.Data}
		for ch := range c.subs {
			select {
			case ch <- event:
			default:
				c.logger.Warn("push subscriber full, dropping event", "event", msg.Event)
			}
		}
	}
	return true
}

func (c *Connection) onTransportError(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return
	}
	c.closeConnLocked()
	c.failLocked(err)
}

// failLocked counts a consecutive failure and either schedules the next
// attempt or settles in Failed.
func (c *Connection) failLocked(err error) {
	c.failures++

	if c.failures >= c.cfg.MaxFailures {
		c.epoch++
		c.setStateLocked(StateFailed, fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.failures, err))
		c.logger.Error("push channel giving up", "failures", c.failures, "error", err)
		return
	}

	c.setStateLocked(StateReconnecting, err)
	c.logger.Warn("push channel lost, reconnecting",
		"failures", c.failures,
		"delay", c.cfg.ReconnectDelay,
		"error", err,
	)

	epoch := c.epoch
	c.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.retry(epoch)
	})
}

func (c *Connection) retry(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch || c.state != StateReconnecting {
		return
	}
	c.timer = nil
	c.connectLocked()
}

func (c *Connection) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connection) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Connection) setStateLocked(to State, err error) {
	from := c.state
	c.state = to
	c.lastErr = err

	change := StateChange{From: from, To: to, Err: err}
	for ch := range c.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}
