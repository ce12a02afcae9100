package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/lru-mirror/pkg/api"
	"github.com/astromechza/lru-mirror/pkg/cachetest"
	"github.com/astromechza/lru-mirror/pkg/mirror"
)

func newClient(t *testing.T, raw string) *api.Client {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return api.NewClient(u, 0)
}

func TestLoader_SeedsMirror(t *testing.T) {
	fake := cachetest.NewServer()
	fake.Put("a", mirror.Entry{Value: "1", Expiry: "10"})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := mirror.New()
	store.ApplySet("leftover", "x", "y")

	require.NoError(t, NewLoader(newClient(t, srv.URL), store).Load(context.Background()))
	require.Equal(t, map[string]mirror.Entry{"a": {Value: "1", Expiry: "10"}}, store.Snapshot().Entries())
}

func TestLoader_FailureLeavesMirror(t *testing.T) {
	fake := cachetest.NewServer()
	fake.Put("a", mirror.Entry{Value: "1", Expiry: "10"})
	fake.FailWith(http.StatusInternalServerError)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := mirror.New()
	store.ApplySet("b", "2", "20")

	err := NewLoader(newClient(t, srv.URL), store).Load(context.Background())
	require.Error(t, err)
	require.True(t, api.IsTransport(err))
	require.Equal(t, map[string]mirror.Entry{"b": {Value: "2", Expiry: "20"}}, store.Snapshot().Entries())
}

func TestLoader_MissingTableIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	store := mirror.New()
	store.ApplySet("b", "2", "20")

	err := NewLoader(newClient(t, srv.URL), store).Load(context.Background())
	require.True(t, api.IsTransport(err))
	require.NotErrorIs(t, err, api.ErrNotFound)
	var te *api.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusNotFound, te.StatusCode)
	require.Equal(t, 1, store.Len())
}

func TestLoader_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(cachetest.NewServer())
	addr := srv.URL
	srv.Close()

	store := mirror.New()
	err := NewLoader(newClient(t, addr), store).Load(context.Background())
	require.True(t, api.IsTransport(err))
	require.Zero(t, store.Len())
}

func TestLoader_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [`))
	}))
	defer srv.Close()

	store := mirror.New()
	require.Error(t, NewLoader(newClient(t, srv.URL), store).Load(context.Background()))
	require.Zero(t, store.Len())
}

func TestLoader_NullItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": null}`))
	}))
	defer srv.Close()

	store := mirror.New()
	store.ApplySet("a", "1", "1")
	require.NoError(t, NewLoader(newClient(t, srv.URL), store).Load(context.Background()))
	require.Zero(t, store.Len())
}

func TestLoader_ConcurrentLoadsShareRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"items": {"a": {"value": "1", "expiry": "10"}}}`))
	}))
	defer srv.Close()

	store := mirror.New()
	l := NewLoader(newClient(t, srv.URL), store)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Load(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	// give the remaining callers time to join the in-flight request
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Less(t, hits.Load(), int32(5))
	require.Equal(t, 1, store.Len())
}
