package cache

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]Provider {
	t.Helper()
	sqlite, err := NewSQLiteProvider(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	level, err := NewLevelDBProvider(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	t.Cleanup(func() { level.Close() })

	return map[string]Provider{
		"memory":  NewMemoryProvider(),
		"sqlite":  sqlite,
		"leveldb": level,
	}
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func jsonResponse(body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return serializer.NewResponse(http.StatusOK, header, []byte(body), nil)
}

func TestStorage(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("open and enumerate", func(t *testing.T) {
				testOpenAndEnumerate(t, New(provider))
			})
			t.Run("put and match", func(t *testing.T) {
				testPutAndMatch(t, New(provider))
			})
			t.Run("delete", func(t *testing.T) {
				testDelete(t, New(provider))
			})
			t.Run("concurrent writes", func(t *testing.T) {
				testConcurrentWrites(t, New(provider))
			})
		})
	}
}

func testOpenAndEnumerate(t *testing.T, s *Storage) {
	ctx := context.Background()
	for _, name := range []string{"v1", "v2", "v3"} {
		store, err := s.Open(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, name, store.Name())
	}
	// opening twice is fine
	_, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Subset(t, names, []string{"v1", "v2", "v3"})

	ok, err := s.Has(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Open(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func testPutAndMatch(t *testing.T, s *Storage) {
	ctx := context.Background()
	store, err := s.Open(ctx, "put-and-match")
	require.NoError(t, err)

	req := get(t, "http://dashboard.local/api_sensors")
	_, ok, err := store.Match(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	res := jsonResponse(`{"temperature":{"current":21}}`)
	require.NoError(t, store.Put(ctx, req, res))

	// the response given to Put stays readable
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, `{"temperature":{"current":21}}`, string(body))

	stored, ok, err := store.Match(ctx, get(t, "http://dashboard.local/api_sensors"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, stored.StatusCode)
	assert.Equal(t, "application/json", stored.Header.Get("Content-Type"))
	body, _ = io.ReadAll(stored.Body)
	assert.Equal(t, `{"temperature":{"current":21}}`, string(body))

	// overwrite
	require.NoError(t, store.Put(ctx, req, jsonResponse(`{"temperature":{"current":22}}`)))
	stored, _, _ = store.Match(ctx, req)
	body, _ = io.ReadAll(stored.Body)
	assert.Equal(t, `{"temperature":{"current":22}}`, string(body))

	// different URL, different entry
	_, ok, _ = store.Match(ctx, get(t, "http://dashboard.local/api_sensors?x=1"))
	assert.False(t, ok)

	reqs, err := store.Requests(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "http://dashboard.local/api_sensors", reqs[0].URL.String())

	post, _ := http.NewRequest(http.MethodPost, "http://dashboard.local/todolist/insert", nil)
	assert.ErrorIs(t, store.Put(ctx, post, jsonResponse(`{}`)), ErrMethodNotCacheable)
}

func testDelete(t *testing.T, s *Storage) {
	ctx := context.Background()
	store, err := s.Open(ctx, "to-delete")
	require.NoError(t, err)
	req := get(t, "http://dashboard.local/")
	require.NoError(t, store.Put(ctx, req, jsonResponse(`{}`)))

	existed, err := s.Delete(ctx, "to-delete")
	require.NoError(t, err)
	assert.True(t, existed)

	ok, err := s.Has(ctx, "to-delete")
	require.NoError(t, err)
	assert.False(t, ok)

	// stale handles miss instead of failing
	_, ok, err = store.Match(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	existed, err = s.Delete(ctx, "to-delete")
	require.NoError(t, err)
	assert.False(t, existed)

	// writing through a stale handle creates the generation again
	require.NoError(t, store.Put(ctx, req, jsonResponse(`{}`)))
	ok, _ = s.Has(ctx, "to-delete")
	assert.True(t, ok)
}

func testConcurrentWrites(t *testing.T, s *Storage) {
	ctx := context.Background()
	store := s.Store("concurrent")
	req := get(t, "http://dashboard.local/api/p48")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, req, jsonResponse(`{"cached_value":1}`)))
		}()
	}
	wg.Wait()

	_, ok, err := store.Match(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteInMemoryProvidersAreSeparate(t *testing.T) {
	ctx := context.Background()
	first, err := NewSQLiteProvider("")
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := NewSQLiteProvider("")
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	require.NoError(t, first.Create(ctx, "smart-home-v1"))
	ok, err := second.Has(ctx, "smart-home-v1")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := first.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"smart-home-v1"}, names)
}

func TestMinioObjectNames(t *testing.T) {
	m := &MinioProvider{bucket: "cache", prefix: "offline/"}
	key := "GET http://dashboard.local/api_sensors?room=1"

	object := m.entryName("smart-home-v1", key)
	assert.Contains(t, object, "offline/smart-home-v1/e/")
	assert.NotContains(t, object[len("offline/smart-home-v1/e/"):], "/")

	decoded, err := m.keyFromEntryName("smart-home-v1", object)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
	assert.Equal(t, "offline/smart-home-v1/.generation", m.markerName("smart-home-v1"))
}
