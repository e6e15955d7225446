package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cachekey "github.com/0ri0nRo/offline-cache/pkg/cache-key"
	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
)

var (
	// ErrMethodNotCacheable is returned when storing a response to a non-GET request.
	ErrMethodNotCacheable = errors.New("cache: only GET requests can be stored")
	// ErrInvalidName is returned for empty generation names.
	ErrInvalidName = errors.New("cache: invalid generation name")
)

// Provider is the byte-level storage behind a Storage.
// It keeps named generations, each one a set of key -> bytes entries.
//
// Implementations must be thread-safe!
// Single-key operations must be atomic, nothing else is required:
// concurrent writes to the same key are last-write-wins.
type Provider interface {
	// Create creates the generation if it does not exist yet.
	Create(ctx context.Context, name string) error
	// Names returns the names of all existing generations.
	Names(ctx context.Context) ([]string, error)
	// Has reports whether the generation exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the generation and all of its entries.
	// It reports whether the generation existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Get returns the entry stored under key in the generation.
	// A missing generation or entry is not an error, the boolean is false.
	Get(ctx context.Context, name, key string) ([]byte, bool, error)
	// Put stores the entry, creating the generation if needed.
	Put(ctx context.Context, name, key string, value []byte) error
	// Keys returns the keys of all entries in the generation.
	Keys(ctx context.Context, name string) ([]string, error)
}

// Storage is the set of cache generations of the offline layer.
type Storage struct {
	provider Provider
}

// New returns a Storage backed by the given provider.
func New(provider Provider) *Storage {
	return &Storage{provider: provider}
}

// Open returns the named generation, creating it if it does not exist.
func (s *Storage) Open(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if err := s.provider.Create(ctx, name); err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	return s.Store(name), nil
}

// Store returns a handle to the named generation without creating it.
// Lookups in a missing generation miss, writes create it.
func (s *Storage) Store(name string) *Store {
	return &Store{provider: s.provider, name: name}
}

// Names returns the names of all generations.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	return s.provider.Names(ctx)
}

// Has reports whether the generation exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	return s.provider.Has(ctx, name)
}

// Delete removes the generation with all of its entries.
// It reports whether the generation existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	return s.provider.Delete(ctx, name)
}

// Store is one cache generation. Entries are keyed by the exact request.
type Store struct {
	provider Provider
	name     string
}

// Name returns the generation name.
func (s *Store) Name() string {
	return s.name
}

// Match returns the stored response for the request, if any.
// The returned response is detached from storage and can be read freely.
func (s *Store) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	key := cachekey.Key(req)
	b, ok, err := s.provider.Get(ctx, s.name, key)
	if err != nil || !ok {
		return nil, false, err
	}
	res, err := serializer.BytesToResponse(b, req)
	if err != nil {
		return nil, false, fmt.Errorf("read stored response %s: %w", key, err)
	}
	return res, true, nil
}

// Put stores the response for the request, replacing any earlier entry.
// The response body is read but stays readable.
func (s *Store) Put(ctx context.Context, req *http.Request, res *http.Response) error {
	if req.Method != http.MethodGet && req.Method != "" {
		return ErrMethodNotCacheable
	}
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return fmt.Errorf("serialize response: %w", err)
	}
	return s.provider.Put(ctx, s.name, cachekey.Key(req), b)
}

// Requests returns the requests that have a stored response.
func (s *Store) Requests(ctx context.Context) ([]*http.Request, error) {
	keys, err := s.provider.Keys(ctx, s.name)
	if err != nil {
		return nil, err
	}
	reqs := make([]*http.Request, 0, len(keys))
	for _, key := range keys {
		req, err := cachekey.RequestFromKey(key)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
