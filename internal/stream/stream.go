// Package stream maintains the live-update websocket channel. The server
// pushes a change signal whenever the configuration changes; the channel
// surfaces those as ticks on Signals() and leaves the actual re-fetch to
// the consumer. Connection health is managed by an explicit state machine
// with exponential backoff and a heartbeat watchdog.
package stream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State int32

const (
	// Disconnected: not yet started, or closed for good.
	Disconnected State = iota
	// Connecting: a dial attempt is in flight.
	Connecting
	// Connected: messages are flowing (or at least heartbeats are).
	Connected
	// Degraded: the connection was lost; waiting out a backoff interval
	// before the next attempt.
	Degraded
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

const (
	// heartbeatMessage is the literal keep-alive frame the server sends.
	heartbeatMessage = "test message"

	defaultHeartbeatInterval = time.Minute

	// watchdogFactor scales the heartbeat interval into the read deadline.
	// Missing this many heartbeats in a row means the connection is
	// half-open and gets torn down.
	watchdogFactor = 4

	reconnectInitialInterval = 15 * time.Second
	reconnectMaxInterval     = time.Hour
)

// Conn is the subset of *websocket.Conn the channel uses; tests substitute
// their own.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens one websocket connection.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Channel is one live-update subscription. Run drives the state machine
// until the context is cancelled or Close is called.
type Channel struct {
	url    string
	header http.Header
	dial   DialFunc
	log    zerolog.Logger

	heartbeatInterval time.Duration
	stateListener     func(State)

	state   atomic.Int32
	signals chan struct{}
	done    chan struct{}
	closing chan struct{}
	nudge   chan struct{}
	closed  atomic.Bool

	mu   sync.Mutex
	conn Conn
}

// Option customizes a Channel.
type Option func(*Channel)

// WithDialFunc replaces the websocket dialer.
func WithDialFunc(dial DialFunc) Option {
	return func(c *Channel) { c.dial = dial }
}

// WithHeartbeatInterval overrides the expected server heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Channel) { c.heartbeatInterval = d }
}

// WithStateListener registers a callback invoked on every state
// transition, from the Run goroutine. Used to feed connection-state
// metrics without coupling the channel to the metrics registry.
func WithStateListener(fn func(State)) Option {
	return func(c *Channel) { c.stateListener = fn }
}

func NewChannel(url string, header http.Header, log zerolog.Logger, opts ...Option) *Channel {
	c := &Channel{
		url:               url,
		header:            header,
		dial:              gorillaDial,
		log:               log.With().Str("component", "stream").Logger(),
		heartbeatInterval: defaultHeartbeatInterval,
		signals:           make(chan struct{}, 1),
		done:              make(chan struct{}),
		closing:           make(chan struct{}),
		nudge:             make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signals delivers one tick per change notification. The channel has a
// buffer of one; coalescing bursts is fine because every tick triggers a
// full re-fetch anyway.
func (c *Channel) Signals() <-chan struct{} { return c.signals }

// State returns the current connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	if c.stateListener != nil {
		c.stateListener(s)
	}
}

// Run connects and keeps the channel alive until ctx is cancelled or the
// channel is closed. Each lost connection backs off exponentially with
// jitter before redialing; a successful connection resets the backoff.
func (c *Channel) Run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(Disconnected)

	bo := c.newBackOff()
	for {
		if ctx.Err() != nil || c.closed.Load() {
			return
		}

		c.setState(Connecting)
		connID := uuid.NewString()
		conn, err := c.dial(ctx, c.url, c.header)
		if err != nil {
			c.setState(Degraded)
			wait := bo.NextBackOff()
			c.log.Warn().Err(err).Str("connection_id", connID).Dur("retry_in", wait).Msg("websocket connect failed")
			if !c.sleep(ctx, wait) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.setState(Connected)
		bo.Reset()
		c.log.Debug().Str("connection_id", connID).Msg("websocket connected")

		err = c.readLoop(conn)
		c.setConn(nil)
		conn.Close()
		if ctx.Err() != nil || c.closed.Load() {
			return
		}

		c.setState(Degraded)
		wait := bo.NextBackOff()
		c.log.Warn().Err(err).Str("connection_id", connID).Dur("retry_in", wait).Msg("websocket connection lost")
		if !c.sleep(ctx, wait) {
			return
		}
	}
}

// readLoop consumes frames until the connection breaks or the watchdog
// deadline lapses. Heartbeats only refresh the deadline; anything else is
// a change signal.
func (c *Channel) readLoop(conn Conn) error {
	deadline := c.heartbeatInterval * watchdogFactor
	for {
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return err
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if string(data) == heartbeatMessage {
			continue
		}
		select {
		case c.signals <- struct{}{}:
		default:
		}
	}
}

// Reconnect tears down the current connection and skips any pending
// backoff wait so Run redials immediately. Called on a connectivity
// down-to-up transition.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Close shuts the channel down for good. Safe to call more than once.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closing)
	c.Reconnect()
	return nil
}

// Done is closed when Run has returned.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) setConn(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialInterval
	bo.MaxInterval = reconnectMaxInterval
	bo.Multiplier = 2
	return bo
}

// sleep waits out a backoff interval, returning false when the context is
// cancelled or the channel is closed.
func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.closing:
		return false
	case <-c.nudge:
		return true
	case <-t.C:
		return true
	}
}
