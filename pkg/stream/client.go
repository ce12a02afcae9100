// Package stream keeps the mirror current from the cache service's push
// channel.
//
// A Client cycles through Connecting, Open and Reconnecting for as long as its
// Run context lives. Every close, including a failed dial, schedules exactly
// one reconnect after a fixed delay; there is no backoff and no retry limit.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/astromechza/lru-mirror/pkg/metrics"
)

const DefaultReconnectDelay = time.Second

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mirror receives the decoded events.
type Mirror interface {
	ApplySet(key, value, expiry string)
	ApplyDelete(key string)
}

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Client struct {
	url            string
	mirror         Mirror
	dialer         Dialer
	header         http.Header
	reconnectDelay time.Duration
	metrics        metrics.Metrics
	logger         *slog.Logger
	onState        func(State)

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex
}

type Option func(*Client)

// WithReconnectDelay sets the fixed wait between a close and the next dial.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(c *Client) { c.metrics = metrics.OrNop(m) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithStateHook calls fn on every state transition, from the Run goroutine.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

func NewClient(url string, m Mirror, opts ...Option) *Client {
	c := &Client{
		url:            url,
		mirror:         m,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		metrics:        metrics.Nop(),
		logger:         slog.Default(),
		state:          StateConnecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State, conn *websocket.Conn) {
	c.mu.Lock()
	c.state = s
	c.conn = conn
	c.mu.Unlock()
	c.metrics.StreamState(s.String())
	if c.onState != nil {
		c.onState(s)
	}
}

// Run connects and keeps reconnecting until ctx is done. It only returns once
// ctx is done, and always with nil.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateStopped, nil)

	for {
		c.setState(StateConnecting, nil)
		logger := c.logger.With("conn", gonanoid.Must(6))
		if err := c.connectAndReceive(ctx, logger); err != nil && ctx.Err() == nil {
			logger.Warn("push channel closed", "err", err)
		}
		if ctx.Err() != nil {
			logger.Info("stopping push channel")
			return nil
		}

		c.setState(StateReconnecting, nil)
		c.metrics.Reconnect()
		t := time.NewTimer(c.reconnectDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			logger.Info("stopping push channel")
			return nil
		}
	}
}

func (c *Client) connectAndReceive(ctx context.Context, logger *slog.Logger) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	c.setState(StateOpen, conn)
	logger.Info("push channel established", "url", c.url)
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.TextMessage:
			c.handle(logger, p)
		default:
		}
	}
}

// handle applies one frame. Bad frames are logged and dropped; nothing here
// may stop the read loop.
func (c *Client) handle(logger *slog.Logger, raw []byte) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		logger.Warn("ignoring push message", "err", err)
		c.metrics.EventDropped("malformed")
		return
	}
	switch ev.Action {
	case ActionSet:
		c.mirror.ApplySet(ev.Key, ev.Value, ev.Expiry)
	case ActionDelete:
		c.mirror.ApplyDelete(ev.Key)
	default:
		logger.Warn("ignoring push message with unknown action", "action", ev.Action)
		c.metrics.EventDropped("unknown_action")
		return
	}
	logger.Debug("applied push message", "action", ev.Action, "key", ev.Key)
	c.metrics.EventApplied(ev.Action)
}

// Send writes v as a JSON text frame. When the channel is not open the
// message is dropped, logged, and ErrChannelUnavailable is returned; nothing
// is queued.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()
	if state != StateOpen || conn == nil {
		c.logger.Warn("push channel is not open, message not sent", "state", state.String())
		return ErrChannelUnavailable
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
