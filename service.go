package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0ri0nRo/offline-cache/pkg/lifecycle"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoWorker is returned for messages no worker can receive.
var ErrNoWorker = errors.New("offlinecache: no worker to handle the message")

// Service is the registration of the caching layer.
// It holds at most one active worker, which intercepts requests,
// and one waiting worker, installed but not yet in control.
type Service struct {
	config  Config
	log     zerolog.Logger
	metrics serviceMetrics
	proxy   *httputil.ReverseProxy

	installing atomic.Pointer[Worker]
	waiting    atomic.Pointer[Worker]
	active     atomic.Pointer[Worker]

	// registration serializes Register calls, activation serializes activations.
	// Activation may happen during registration, never the other way around.
	registration sync.Mutex
	activation   sync.Mutex
}

// New creates the service. No worker is registered yet,
// so requests pass through until Register succeeds.
func New(config Config) (*Service, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if config.Origin.Scheme == "" || config.Origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL, got %q", config.Origin.String())
	}
	if config.Generation == "" {
		config.Generation = DefaultGeneration
	}
	if config.Network == nil {
		config.Network = defaultNetwork(config.OriginHost)
	}
	if config.DisableFetchTimeout {
		config.FetchTimeout = 0
	} else if config.FetchTimeout == 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	s := &Service{
		config: config,
		log: logger.With().
			Str("origin", config.Origin.String()).
			Logger(),
		metrics: newServiceMetrics(),
	}
	hostHeader := config.Origin.Host
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
	}
	s.proxy = &httputil.ReverseProxy{
		Director:     createDirector(config.Origin.Scheme, config.Origin.Host, hostHeader),
		Transport:    proxyTransport{s},
		ErrorHandler: s.proxyError,
	}
	return s, nil
}

// Register installs a worker for the generation ("" for the configured one).
// The first worker is activated right away. Later ones wait until they
// are installed with skip-waiting configured or receive SKIP_WAITING.
func (s *Service) Register(ctx context.Context, generation string) (*Worker, error) {
	s.registration.Lock()
	defer s.registration.Unlock()

	if generation == "" {
		generation = s.config.Generation
	}
	w := s.newWorker(generation)
	s.installing.Store(w)
	if err := w.lifecycle.Install(ctx); err != nil {
		s.installing.CompareAndSwap(w, nil)
		return nil, err
	}
	s.installing.CompareAndSwap(w, nil)

	// not activated during installation
	if w.State() == lifecycle.Installed {
		if old := s.waiting.Swap(w); old != nil && old != w {
			old.lifecycle.Retire()
		}
		if s.active.Load() == nil {
			if err := s.activate(ctx, w); err != nil {
				return nil, err
			}
		}
	}
	return w, nil
}

// SkipWaiting activates the waiting worker, if any.
func (s *Service) SkipWaiting(ctx context.Context) error {
	w := s.waiting.Load()
	if w == nil {
		return nil
	}
	return s.activate(ctx, w)
}

func (s *Service) skipWaiting(w *Worker) {
	ctx := s.log.WithContext(context.Background())
	if err := s.activate(ctx, w); err != nil {
		s.log.Error().Err(err).Str("generation", w.generation).Msg("Could not activate worker")
	}
}

// activate activates an installed worker that is installing or waiting.
// Anything else is a no-op, e.g. a worker that was superseded meanwhile.
func (s *Service) activate(ctx context.Context, w *Worker) error {
	s.activation.Lock()
	defer s.activation.Unlock()
	if w.State() != lifecycle.Installed {
		return nil
	}
	if s.installing.Load() != w && s.waiting.Load() != w {
		return nil
	}
	return w.lifecycle.Activate(ctx)
}

// claim routes all new requests through the worker.
// Requests in flight finish on the worker they started on.
func (s *Service) claim(w *Worker) {
	s.installing.CompareAndSwap(w, nil)
	s.waiting.CompareAndSwap(w, nil)
	old := s.active.Swap(w)
	if old != nil && old != w {
		old.lifecycle.Retire()
	}
	s.metrics.generationChanged()
	s.log.Info().Str("generation", w.generation).Msg("Worker activated")
}

// Active returns the worker in control, nil before the first activation.
func (s *Service) Active() *Worker {
	return s.active.Load()
}

// Waiting returns the installed worker waiting for activation, if any.
func (s *Service) Waiting() *Worker {
	return s.waiting.Load()
}

// PostMessage delivers a control message from the page.
// SKIP_WAITING goes to the waiting worker, CLEAR_CACHE to the active one.
// SKIP_WAITING with nothing waiting does nothing.
func (s *Service) PostMessage(ctx context.Context, msg lifecycle.Message) error {
	var w *Worker
	switch msg.Type {
	case lifecycle.SkipWaitingMessage:
		if w = s.waiting.Load(); w == nil {
			return nil
		}
	case lifecycle.ClearCacheMessage:
		w = s.active.Load()
	default:
		return fmt.Errorf("%w: %q", lifecycle.ErrUnknownMessage, msg.Type)
	}
	if w == nil {
		return ErrNoWorker
	}
	return w.lifecycle.HandleMessage(ctx, msg)
}

// RoundTrip implements http.RoundTripper, for using the service as the
// transport of a Go client (client mode).
func (s *Service) RoundTrip(req *http.Request) (*http.Response, error) {
	w := s.active.Load()
	if w == nil {
		return s.config.Network.RoundTrip(req)
	}
	res, _, err := w.Do(req)
	return res, err
}

// ServeHTTP implements http.Handler, proxying requests to the origin (proxy mode).
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.proxy.ServeHTTP(w, r)
}

// proxyTransport intercepts proxied requests and reports the cache status.
type proxyTransport struct {
	s *Service
}

func (t proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	w := t.s.active.Load()
	if w == nil {
		return t.s.config.Network.RoundTrip(req)
	}
	res, cs, err := w.Do(req)
	if err != nil {
		return nil, err
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	res.Header.Set(CacheStatusHeader, cs.String())
	return res, nil
}

func (s *Service) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	getLogger(r, &s.log).Error().Err(err).Str("url", r.URL.String()).Msg("Could not get response from origin")
	w.WriteHeader(http.StatusBadGateway)
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the fallback logger.
func getLogger(r *http.Request, fallback *zerolog.Logger) *zerolog.Logger {
	logger := zerolog.Ctx(r.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = fallback
	}
	return logger
}
