package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/lru-mirror/pkg/api"
	"github.com/astromechza/lru-mirror/pkg/cachetest"
	"github.com/astromechza/lru-mirror/pkg/mirror"
)

func newGateway(t *testing.T, h http.Handler, opts ...Option) *Gateway {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return New(api.NewClient(u, 0), opts...)
}

func TestSetItem_NormalizesExpiry(t *testing.T) {
	fake := cachetest.NewServer()
	g := newGateway(t, fake)
	ctx := context.Background()

	require.Equal(t, success(TextSetOK), g.SetItem(ctx, "k1", "v", "5", Minutes))
	require.Equal(t, success(TextSetOK), g.SetItem(ctx, "k2", "v", "2", Hours))
	require.Equal(t, success(TextSetOK), g.SetItem(ctx, "k3", "v", "5", Seconds))
	require.Equal(t, success(TextSetOK), g.SetItem(ctx, "a/b", "v", "1", ParseUnit("bogus")))

	require.Equal(t, []cachetest.SetRequest{
		{Key: "k1", Value: "v", Expiry: 300},
		{Key: "k2", Value: "v", Expiry: 7200},
		{Key: "k3", Value: "v", Expiry: 5},
		{Key: "a/b", Value: "v", Expiry: 1},
	}, fake.Sets())
}

func TestSetItem_ValidationSkipsNetwork(t *testing.T) {
	fake := cachetest.NewServer()
	g := newGateway(t, fake)
	ctx := context.Background()

	for _, tc := range []struct {
		key, value, expiry string
		want               string
	}{
		{"", "v", "1", TextKeyRequired},
		{"k", "", "1", TextValueRequired},
		{"k", "v", "", TextExpiryRequired},
		{"k", "v", "soon", TextExpiryNaN},
		{"k", "v", "1.5", TextExpiryNaN},
		{"k", "v", "0", TextExpiryPositive},
		{"k", "v", "-3", TextExpiryPositive},
	} {
		m := g.SetItem(ctx, tc.key, tc.value, tc.expiry, Seconds)
		assert.Equal(t, failure(tc.want), m, "%q/%q/%q", tc.key, tc.value, tc.expiry)
	}
	assert.Equal(t, failure(TextExpiryTooLarge), g.SetItem(ctx, "k", "v", "5124095576030432", Hours))
	require.Empty(t, fake.Sets())
	require.False(t, g.InFlight(OpSet))
}

func TestSetItem_FailureIsGeneric(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusBadRequest, http.StatusInternalServerError} {
		fake := cachetest.NewServer()
		fake.FailWith(status)
		g := newGateway(t, fake)
		require.Equal(t, failure(TextGenericErr), g.SetItem(context.Background(), "k", "v", "1", Seconds))
		require.Equal(t, failure(TextGenericErr), g.Message(OpSet))
	}
}

func TestGetItem(t *testing.T) {
	fake := cachetest.NewServer()
	fake.Put("a", mirror.Entry{Value: "1", Expiry: "10"})
	g := newGateway(t, fake)
	ctx := context.Background()

	value, m := g.GetItem(ctx, "a")
	require.Equal(t, "1", value)
	require.Equal(t, success(TextGetOK), m)

	value, m = g.GetItem(ctx, "missing")
	require.Empty(t, value)
	require.Equal(t, failure(TextNotFound), m)

	_, m = g.GetItem(ctx, "")
	require.Equal(t, failure(TextKeyRequired), m)

	fake.FailWith(http.StatusInternalServerError)
	_, m = g.GetItem(ctx, "a")
	require.Equal(t, failure(TextGenericErr), m)
}

func TestDeleteItem(t *testing.T) {
	fake := cachetest.NewServer()
	fake.Put("a", mirror.Entry{Value: "1", Expiry: "10"})
	g := newGateway(t, fake)
	ctx := context.Background()

	require.Equal(t, success(TextDeleteOK), g.DeleteItem(ctx, "a"))

	m := g.DeleteItem(ctx, "missing")
	require.Equal(t, KindError, m.Kind)
	require.Equal(t, TextNotFound, m.Text)
	require.NotEqual(t, TextGenericErr, m.Text)

	fake.FailWith(http.StatusBadGateway)
	require.Equal(t, failure(TextGenericErr), g.DeleteItem(ctx, "a"))
}

func TestGateway_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(cachetest.NewServer())
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	srv.Close()

	g := New(api.NewClient(u, 0))
	ctx := context.Background()
	require.Equal(t, failure(TextGenericErr), g.SetItem(ctx, "k", "v", "1", Seconds))
	_, m := g.GetItem(ctx, "k")
	require.Equal(t, failure(TextGenericErr), m)
	require.Equal(t, failure(TextGenericErr), g.DeleteItem(ctx, "k"))
}

func TestGateway_InFlight(t *testing.T) {
	release := make(chan struct{})
	g := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"value":"slow"}`))
	}))

	done := make(chan string, 1)
	go func() {
		v, _ := g.GetItem(context.Background(), "k")
		done <- v
	}()

	require.Eventually(t, func() bool { return g.InFlight(OpGet) }, time.Second, time.Millisecond)
	require.False(t, g.InFlight(OpSet))
	require.False(t, g.InFlight(OpDelete))
	close(release)

	require.Equal(t, "slow", <-done)
	require.False(t, g.InFlight(OpGet))
}

func TestGateway_MessageClearsAfterTTL(t *testing.T) {
	var mu sync.Mutex
	var seen []Message
	fake := cachetest.NewServer()
	g := newGateway(t, fake,
		WithMessageTTL(30*time.Millisecond),
		WithMessageHook(func(op Op, m Message) {
			if op != OpDelete {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, m)
		}),
	)

	require.Equal(t, failure(TextNotFound), g.DeleteItem(context.Background(), "nope"))
	require.Equal(t, failure(TextNotFound), g.Message(OpDelete))
	require.Eventually(t, func() bool { return g.Message(OpDelete).IsZero() }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Message{{}, failure(TextNotFound), {}}, seen)
}

func TestGateway_MessagesArePerOperation(t *testing.T) {
	fake := cachetest.NewServer()
	g := newGateway(t, fake)
	ctx := context.Background()

	g.SetItem(ctx, "k", "v", "1", Seconds)
	g.DeleteItem(ctx, "other")
	assert.Equal(t, success(TextSetOK), g.Message(OpSet))
	assert.Equal(t, failure(TextNotFound), g.Message(OpDelete))
	assert.True(t, g.Message(OpGet).IsZero())
	assert.True(t, g.Message(Op("bogus")).IsZero())
}
