// Package offlinecache keeps a dashboard usable while its backend is unreachable.
//
// A Service intercepts the dashboard's requests, either as the HTTP server the
// page talks to (ServeHTTP) or as the transport of a Go client (RoundTrip).
// Live API data is fetched network-first and kept with its ingestion time,
// same-origin static resources are served cache-first, and when nothing usable
// is stored the layer answers with placeholder data instead of an error.
package offlinecache

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/0ri0nRo/offline-cache/cache"
	"github.com/0ri0nRo/offline-cache/pkg/lifecycle"
	"github.com/0ri0nRo/offline-cache/pkg/route"
	"github.com/0ri0nRo/offline-cache/pkg/strategy"

	"github.com/rs/zerolog"
)

// DefaultFetchTimeout bounds each network attempt unless disabled.
const DefaultFetchTimeout = strategy.DefaultTimeout

type Config struct {
	// URL of the origin, i.e. the page's own origin.
	// Origins with paths are not supported.
	Origin url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Storage for cache generations.
	Storage *cache.Storage
	// Network performs the actual requests. Defaults to http.DefaultTransport,
	// or a transport using OriginHost as TLS server name if that is set.
	Network http.RoundTripper
	// Generation names the cache generation of the first worker.
	Generation string
	// Precache lists the static resources stored when a worker is installed.
	Precache []string
	// APIMarkers are added to the default live data path markers.
	APIMarkers []string
	// Bypass are added to the default same-origin prefixes that are never cached.
	Bypass []string
	// FetchTimeout bounds each network attempt, DefaultFetchTimeout if zero.
	FetchTimeout time.Duration
	// DisableFetchTimeout lets network attempts run for as long as the origin takes.
	DisableFetchTimeout bool
	// SkipWaitingOnInstall activates a new worker as soon as it is installed.
	SkipWaitingOnInstall bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Now is the clock, time.Now if nil.
	Now func() time.Time
}

// Worker is one version of the caching layer, bound to one cache generation.
type Worker struct {
	generation   string
	router       route.Router
	network      http.RoundTripper
	lifecycle    *lifecycle.Controller
	networkFirst *strategy.NetworkFirst
	cacheFirst   *strategy.CacheFirst
	log          zerolog.Logger
	metrics      serviceMetrics
}

func (s *Service) newWorker(generation string) *Worker {
	cfg := s.config
	w := &Worker{
		generation: generation,
		router:     route.New(&cfg.Origin, cfg.APIMarkers, cfg.Bypass),
		network:    cfg.Network,
		log:        s.log.With().Str("generation", generation).Logger(),
		metrics:    s.metrics,
	}
	w.lifecycle = lifecycle.New(lifecycle.Config{
		Generation:           generation,
		Storage:              cfg.Storage,
		Origin:               &cfg.Origin,
		Precache:             cfg.Precache,
		Network:              cfg.Network,
		Timeout:              cfg.FetchTimeout,
		SkipWaitingOnInstall: cfg.SkipWaitingOnInstall,
		SkipWaiting:          func() { s.skipWaiting(w) },
		Claim:                func(context.Context) error { s.claim(w); return nil },
		Logger:               &s.log,
	})
	opts := strategy.Options{Timeout: cfg.FetchTimeout, Now: cfg.Now}
	store := w.lifecycle.Store()
	w.networkFirst = strategy.NewNetworkFirst(cfg.Network, store, opts)
	w.cacheFirst = strategy.NewCacheFirst(cfg.Network, store, opts)
	return w
}

// Generation returns the name of the worker's cache generation.
func (w *Worker) Generation() string {
	return w.generation
}

// State returns the lifecycle state of the worker.
func (w *Worker) State() lifecycle.State {
	return w.lifecycle.State()
}

// Do intercepts a single request.
// The request URL must be absolute unless it targets the origin.
// An error is returned only if the request was passed through or served
// cache-first and the network failed without a stored response.
func (w *Worker) Do(req *http.Request) (*http.Response, CacheStatus, error) {
	started := time.Now()
	ctx := req.Context()
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		ctx = w.log.WithContext(ctx)
	}
	disposition := w.router.Classify(req)
	log := zerolog.Ctx(ctx).With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("disposition", disposition.String()).
		Logger()
	log.Trace().Msg("Intercepting request")

	var (
		res     *http.Response
		outcome strategy.Outcome
		err     error
	)
	switch disposition {
	case route.NetworkFirst:
		res, outcome = w.networkFirst.Handle(ctx, req)
	case route.CacheFirst:
		res, outcome, err = w.cacheFirst.Handle(ctx, req)
	default:
		res, err = w.network.RoundTrip(req)
		outcome.NetworkErr = err
	}

	cs := cacheStatusFor(disposition, req.Method == http.MethodGet || req.Method == "", outcome)
	w.metrics.observe(disposition, cs, outcome.NetworkErr != nil, started)
	if err != nil {
		log.Debug().Err(err).Msg("Request failed")
		return nil, cs, err
	}
	log.Debug().
		Int("status", res.StatusCode).
		Str("cache", cs.String()).
		Msg("Sending response")
	return res, cs, nil
}

func defaultNetwork(originHost string) http.RoundTripper {
	if originHost == "" {
		return http.DefaultTransport
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		ServerName: originHost,
	}
	return transport
}
