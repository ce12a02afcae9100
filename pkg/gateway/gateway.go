// Package gateway turns user actions into REST calls against the cache
// service and reports each outcome as a Message.
//
// Set and delete never touch the mirror: their effect comes back over the
// push channel. Get results go straight to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/astromechza/lru-mirror/pkg/api"
	"github.com/astromechza/lru-mirror/pkg/metrics"
)

type Op string

const (
	OpSet    Op = "set"
	OpGet    Op = "get"
	OpDelete Op = "delete"
)

var ops = []Op{OpSet, OpGet, OpDelete}

type Gateway struct {
	client     *api.Client
	metrics    metrics.Metrics
	logger     *slog.Logger
	messageTTL time.Duration
	onMessage  func(Op, Message)

	boards   map[Op]*board
	inFlight map[Op]*atomic.Bool
}

type Option func(*Gateway)

func WithMetrics(m metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = metrics.OrNop(m) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMessageTTL sets how long a message stays before it is cleared.
func WithMessageTTL(d time.Duration) Option {
	return func(g *Gateway) { g.messageTTL = d }
}

// WithMessageHook is called whenever an operation's message changes,
// including when it is cleared.
func WithMessageHook(fn func(Op, Message)) Option {
	return func(g *Gateway) { g.onMessage = fn }
}

func New(client *api.Client, opts ...Option) *Gateway {
	g := &Gateway{
		client:     client,
		metrics:    metrics.Nop(),
		logger:     slog.Default(),
		messageTTL: DefaultMessageTTL,
		boards:     make(map[Op]*board, len(ops)),
		inFlight:   make(map[Op]*atomic.Bool, len(ops)),
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, op := range ops {
		op := op
		g.boards[op] = newBoard(g.messageTTL, func(m Message) {
			if g.onMessage != nil {
				g.onMessage(op, m)
			}
		})
		g.inFlight[op] = new(atomic.Bool)
	}
	return g
}

// Message returns the message currently shown for op.
func (g *Gateway) Message(op Op) Message {
	if b, ok := g.boards[op]; ok {
		return b.Current()
	}
	return Message{}
}

// InFlight reports whether a call for op is outstanding.
func (g *Gateway) InFlight(op Op) bool {
	if f, ok := g.inFlight[op]; ok {
		return f.Load()
	}
	return false
}

// begin clears the previous message and raises the in-flight flag. The
// returned func records the outcome and lowers the flag.
func (g *Gateway) begin(op Op) func(Message) Message {
	g.boards[op].Post(Message{})
	g.inFlight[op].Store(true)
	t := g.metrics.MutationDuration(string(op))
	return func(m Message) Message {
		t.ObserveDuration()
		g.metrics.MutationCompleted(string(op), m.Kind.String())
		g.boards[op].Post(m)
		g.inFlight[op].Store(false)
		return m
	}
}

func (g *Gateway) reject(op Op, err error) Message {
	var ve *ValidationError
	text := TextGenericErr
	if errors.As(err, &ve) {
		text = ve.Text
	}
	m := failure(text)
	g.boards[op].Post(m)
	return m
}

// SetItem stores value under key with an expiry given in unit. Invalid input
// is rejected before any request is made. Failures of any kind produce the
// generic error message.
func (g *Gateway) SetItem(ctx context.Context, key, value, expiry string, unit Unit) Message {
	if key == "" {
		return g.reject(OpSet, &ValidationError{Text: TextKeyRequired})
	}
	if value == "" {
		return g.reject(OpSet, &ValidationError{Text: TextValueRequired})
	}
	seconds, err := NormalizeExpiry(expiry, unit)
	if err != nil {
		return g.reject(OpSet, err)
	}

	done := g.begin(OpSet)
	if err := g.setItem(ctx, key, value, seconds); err != nil {
		g.logger.Error("failed to set item", "key", key, "err", err)
		return done(failure(TextGenericErr))
	}
	g.logger.Info("set item", "key", key, "expiry", seconds)
	return done(success(TextSetOK))
}

func (g *Gateway) setItem(ctx context.Context, key, value string, seconds int) error {
	raw, err := json.Marshal(struct {
		Value  string `json:"value"`
		Expiry int    `json:"expiry"`
	}{Value: value, Expiry: seconds})
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.client.KeyURL(key), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// GetItem reads key directly from the service. The value is not mirrored.
func (g *Gateway) GetItem(ctx context.Context, key string) (string, Message) {
	if key == "" {
		return "", g.reject(OpGet, &ValidationError{Text: TextKeyRequired})
	}

	done := g.begin(OpGet)
	value, err := g.getItem(ctx, key)
	if err != nil {
		return "", done(g.classify("get", key, err))
	}
	g.logger.Info("got item", "key", key)
	return value, done(success(TextGetOK))
}

func (g *Gateway) getItem(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.client.KeyURL(key), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}
	return body.Value, nil
}

// DeleteItem removes key from the service.
func (g *Gateway) DeleteItem(ctx context.Context, key string) Message {
	if key == "" {
		return g.reject(OpDelete, &ValidationError{Text: TextKeyRequired})
	}

	done := g.begin(OpDelete)
	if err := g.deleteItem(ctx, key); err != nil {
		return done(g.classify("delete", key, err))
	}
	g.logger.Info("deleted item", "key", key)
	return done(success(TextDeleteOK))
}

func (g *Gateway) deleteItem(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.client.KeyURL(key), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (g *Gateway) classify(verb, key string, err error) Message {
	if errors.Is(err, api.ErrNotFound) {
		g.logger.Info("key not found", "op", verb, "key", key)
		return failure(TextNotFound)
	}
	g.logger.Error("failed to "+verb+" item", "key", key, "err", err)
	return failure(TextGenericErr)
}
