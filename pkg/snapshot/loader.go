// Package snapshot seeds the mirror from the cache service's full table.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/astromechza/lru-mirror/pkg/api"
	"github.com/astromechza/lru-mirror/pkg/metrics"
	"github.com/astromechza/lru-mirror/pkg/mirror"
)

// Response is the body of GET /api/cache.
type Response struct {
	Items map[string]mirror.Entry `json:"items"`
}

type Loader struct {
	client  *api.Client
	store   *mirror.Store
	metrics metrics.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

type Option func(*Loader)

func WithMetrics(m metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = metrics.OrNop(m) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func NewLoader(client *api.Client, store *mirror.Store, opts ...Option) *Loader {
	l := &Loader{
		client:  client,
		store:   store,
		metrics: metrics.Nop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the full table once and replaces the mirror with it. On any
// failure the mirror is left as it was. Load does not retry; concurrent calls
// share a single request.
func (l *Loader) Load(ctx context.Context) error {
	_, err, _ := l.group.Do("snapshot", func() (interface{}, error) {
		return nil, l.load(ctx)
	})
	l.metrics.SnapshotLoaded(err == nil)
	return err
}

func (l *Loader) load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.client.CacheURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if errors.Is(err, api.ErrNotFound) {
		// a missing table is not a missing key
		err = &api.TransportError{Method: req.Method, URL: req.URL.String(), StatusCode: http.StatusNotFound}
	}
	if err != nil {
		return fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer resp.Body.Close()

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	l.store.ReplaceAll(body.Items)
	l.logger.Info("established mirror from snapshot", "keys", len(body.Items))
	return nil
}
