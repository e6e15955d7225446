// Package strategy implements the two interception strategies of the offline layer:
// network-first for live API data and cache-first for static resources.
package strategy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single network attempt.
const DefaultTimeout = 30 * time.Second

// Cache is the part of a cache generation the strategies need.
type Cache interface {
	Match(ctx context.Context, req *http.Request) (*http.Response, bool, error)
	Put(ctx context.Context, req *http.Request, res *http.Response) error
}

// Options are shared by both strategies.
type Options struct {
	// Timeout bounds each network attempt, including reading the body.
	// Zero disables the bound, a hung origin then hangs the request.
	Timeout time.Duration
	// Now is the clock, time.Now if nil.
	Now func() time.Time
}

// Outcome describes how a request was answered.
type Outcome struct {
	// Hit is set when the response came from the cache.
	Hit bool
	// Stored is set when the network response was written to the cache.
	Stored bool
	// Fallback is set when the response was synthesized.
	Fallback bool
	// Stale is set when a stored response was found but had expired.
	Stale bool
	// NetworkErr is the failure that made the strategy look elsewhere.
	// A non-2xx answer counts as a failure.
	NetworkErr error
}

// base holds what both strategies share.
type base struct {
	network http.RoundTripper
	cache   Cache
	timeout time.Duration
	now     func() time.Time
	// store failures can repeat on every request, so they are logged sometimes only
	storeErrors *rate.Sometimes
}

func newBase(network http.RoundTripper, cache Cache, opts Options) base {
	if network == nil {
		network = http.DefaultTransport
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return base{
		network:     network,
		cache:       cache,
		timeout:     opts.Timeout,
		now:         now,
		storeErrors: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// fetch sends the request to the network.
// The body of the returned response is fully buffered,
// so the timeout covers slow bodies as well.
func (b base) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	cancel := func() {}
	if b.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
	}
	defer cancel()

	res, err := b.network.RoundTrip(req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	if _, err := serializer.ReadBody(res); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return res, nil
}

// lookup returns the stored response for the request.
// Store failures are logged and count as a miss.
func (b base) lookup(ctx context.Context, req *http.Request) (*http.Response, bool) {
	res, ok, err := b.cache.Match(ctx, req)
	if err != nil {
		b.storeErrors.Do(func() {
			logger(ctx).Warn().Err(err).Str("url", req.URL.String()).Msg("Could not read from cache")
		})
		return nil, false
	}
	return res, ok
}

// put writes the response to the cache, logging failures.
// The write outlives the request, a client hanging up does not cancel it.
func (b base) put(ctx context.Context, req *http.Request, res *http.Response) bool {
	if err := b.cache.Put(context.WithoutCancel(ctx), req, res); err != nil {
		b.storeErrors.Do(func() {
			logger(ctx).Warn().Err(err).Str("url", req.URL.String()).Msg("Could not write to cache")
		})
		return false
	}
	logger(ctx).Trace().Str("url", req.URL.String()).Msg("Cache write")
	return true
}

func successful(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}

// logger returns the logger from the context.
// If no logger is found, it will return the default logger.
func logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &log.Logger
	}
	return l
}
