package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0ri0nRo/offline-cache/cache"
	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// origin serves every path except /missing.
var origin = roundTripFunc(func(req *http.Request) (*http.Response, error) {
	if req.URL.Path == "/missing" {
		return serializer.NewResponse(http.StatusNotFound, nil, nil, req), nil
	}
	return serializer.NewResponse(http.StatusOK, nil, []byte("content of "+req.URL.Path), req), nil
})

var offline = roundTripFunc(func(*http.Request) (*http.Response, error) {
	return nil, errors.New("network unreachable")
})

func originURL(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("http://dashboard.local")
	require.NoError(t, err)
	return u
}

func TestInstallPrecaches(t *testing.T) {
	ctx := context.Background()
	storage := cache.New(cache.NewMemoryProvider())
	var skipped atomic.Int32
	c := New(Config{
		Generation:           "smart-home-v1",
		Storage:              storage,
		Origin:               originURL(t),
		Precache:             []string{"/", "/static/favicon.ico", "/missing"},
		Network:              origin,
		SkipWaitingOnInstall: true,
		SkipWaiting:          func() { skipped.Add(1) },
	})
	assert.Equal(t, Parsed, c.State())

	require.NoError(t, c.Install(ctx))
	assert.Equal(t, Installed, c.State())
	assert.Equal(t, int32(1), skipped.Load())

	req, _ := http.NewRequest(http.MethodGet, "http://dashboard.local/static/favicon.ico", nil)
	res, ok, err := c.Store().Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, "content of /static/favicon.ico", string(body))

	reqs, err := c.Store().Requests(ctx)
	require.NoError(t, err)
	assert.Len(t, reqs, 2, "the failed resource is not stored")
}

func TestInstallFailuresAreNotFatal(t *testing.T) {
	storage := cache.New(cache.NewMemoryProvider())
	c := New(Config{
		Generation: "smart-home-v1",
		Storage:    storage,
		Origin:     originURL(t),
		Precache:   []string{"/", "/static/favicon.ico"},
		Network:    offline,
	})
	require.NoError(t, c.Install(context.Background()))
	assert.Equal(t, Installed, c.State())

	ok, err := storage.Has(context.Background(), "smart-home-v1")
	require.NoError(t, err)
	assert.True(t, ok, "the generation exists even if empty")
}

// unopenable refuses to create generations.
type unopenable struct {
	cache.Provider
}

func (unopenable) Create(context.Context, string) error {
	return errors.New("disk full")
}

func TestInstallWithoutStorage(t *testing.T) {
	var skipped atomic.Int32
	c := New(Config{
		Generation:           "smart-home-v1",
		Storage:              cache.New(unopenable{cache.NewMemoryProvider()}),
		Origin:               originURL(t),
		Precache:             []string{"/"},
		Network:              origin,
		SkipWaitingOnInstall: true,
		SkipWaiting:          func() { skipped.Add(1) },
	})
	require.NoError(t, c.Install(context.Background()))
	assert.Equal(t, Installed, c.State())
	assert.Equal(t, int32(1), skipped.Load())
}

func TestInstallCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Config{
		Generation: "smart-home-v1",
		Storage:    cache.New(cache.NewMemoryProvider()),
		Network:    origin,
	})
	assert.ErrorIs(t, c.Install(ctx), context.Canceled)
	assert.Equal(t, Redundant, c.State())
}

func TestInstallWithoutSkipWaiting(t *testing.T) {
	var skipped atomic.Int32
	c := New(Config{
		Generation:  "smart-home-v2",
		Storage:     cache.New(cache.NewMemoryProvider()),
		Network:     origin,
		SkipWaiting: func() { skipped.Add(1) },
	})
	require.NoError(t, c.Install(context.Background()))
	assert.Zero(t, skipped.Load())
}

func TestActivatePurgesOldGenerations(t *testing.T) {
	ctx := context.Background()
	storage := cache.New(cache.NewMemoryProvider())
	for _, name := range []string{"v1", "v2", "v3"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	claimed := false
	c := New(Config{
		Generation: "v3",
		Storage:    storage,
		Claim: func(context.Context) error {
			// old generations are gone before claiming
			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v3"}, names)
			claimed = true
			return nil
		},
	})
	require.NoError(t, c.Activate(ctx))
	assert.True(t, claimed)
	assert.Equal(t, Activated, c.State())

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v3"}, names)
}

func TestActivateClaimFailure(t *testing.T) {
	c := New(Config{
		Generation: "v1",
		Storage:    cache.New(cache.NewMemoryProvider()),
		Claim:      func(context.Context) error { return errors.New("no registration") },
	})
	assert.Error(t, c.Activate(context.Background()))
	assert.Equal(t, Activating, c.State())
}

func TestClearCacheReplies(t *testing.T) {
	ctx := context.Background()
	storage := cache.New(cache.NewMemoryProvider())
	c := New(Config{Generation: "smart-home-v1", Storage: storage})
	require.NoError(t, c.Install(ctx))

	reply := make(chan Reply, 1)
	require.NoError(t, c.HandleMessage(ctx, Message{Type: ClearCacheMessage, Reply: reply}))

	select {
	case r := <-reply:
		assert.True(t, r.Success)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
	ok, err := storage.Has(ctx, "smart-home-v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSkipWaitingMessage(t *testing.T) {
	var skipped atomic.Int32
	c := New(Config{
		Generation:  "smart-home-v1",
		Storage:     cache.New(cache.NewMemoryProvider()),
		SkipWaiting: func() { skipped.Add(1) },
	})
	require.NoError(t, c.HandleMessage(context.Background(), Message{Type: SkipWaitingMessage}))
	assert.Equal(t, int32(1), skipped.Load())
}

func TestUnknownMessage(t *testing.T) {
	c := New(Config{Generation: "smart-home-v1", Storage: cache.New(cache.NewMemoryProvider())})
	err := c.HandleMessage(context.Background(), Message{Type: "RELOAD"})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "activated", Activated.String())
	assert.Equal(t, "State(42)", State(42).String())
	text, err := Redundant.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "redundant", string(text))
}
