// Package lifecycle drives one cache generation through installation,
// activation and the out-of-band control messages sent by the page.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/0ri0nRo/offline-cache/cache"
	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Controller.
type State int32

const (
	Parsed State = iota
	Installing
	Installed
	Activating
	Activated
	// Redundant controllers failed to install or were replaced.
	Redundant
)

func (s State) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	case Redundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText makes states readable in JSON status documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// precacheConcurrency limits parallel fetches during installation.
const precacheConcurrency = 4

var ErrUnknownMessage = errors.New("lifecycle: unknown message type")

// Config configures a Controller.
type Config struct {
	// Generation is the name of the cache generation the controller owns.
	Generation string
	Storage    *cache.Storage
	// Origin resolves the Precache paths.
	Origin *url.URL
	// Precache lists the static resources stored at install time.
	Precache []string
	// Network fetches the Precache resources, http.DefaultTransport if nil.
	Network http.RoundTripper
	// Timeout bounds each precache fetch, zero means no bound.
	Timeout time.Duration
	// SkipWaitingOnInstall requests activation right after installation.
	SkipWaitingOnInstall bool
	// SkipWaiting asks the owner to activate the controller now.
	// It is called on install (if configured) and on SKIP_WAITING messages.
	SkipWaiting func()
	// Claim routes new requests through the controller. Called last during activation.
	Claim func(ctx context.Context) error
	// Logger is the base logger, the global logger if nil.
	Logger *zerolog.Logger
}

// Controller owns one cache generation.
type Controller struct {
	config Config
	state  atomic.Int32
	store  *cache.Store
	logger zerolog.Logger
}

func New(config Config) *Controller {
	if config.Network == nil {
		config.Network = http.DefaultTransport
	}
	if config.Logger == nil {
		config.Logger = &log.Logger
	}
	return &Controller{
		config: config,
		store:  config.Storage.Store(config.Generation),
		logger: config.Logger.With().Str("generation", config.Generation).Logger(),
	}
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug().Str("state", s.String()).Msg("Lifecycle state changed")
}

// Generation returns the name of the owned cache generation.
func (c *Controller) Generation() string {
	return c.config.Generation
}

// Store returns the owned cache generation.
func (c *Controller) Store() *cache.Store {
	return c.store
}

// Install opens the generation and stores the precache list.
// Storage failures are logged and leave an empty generation behind,
// lookups miss and writes try to create it again.
// Installation fails only if ctx is done.
func (c *Controller) Install(ctx context.Context) error {
	c.setState(Installing)
	if _, err := c.config.Storage.Open(ctx, c.config.Generation); err != nil {
		c.logger.Error().Err(err).Msg("Could not open cache, installing without it")
	} else {
		c.logger.Info().Msg("Cache opened")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for _, path := range c.config.Precache {
		g.Go(func() error {
			if err := c.precache(gctx, path); err != nil {
				c.logger.Warn().Err(err).Str("path", path).Msg("Could not precache resource")
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		c.setState(Redundant)
		return fmt.Errorf("install %s: %w", c.config.Generation, err)
	}

	c.setState(Installed)
	if c.config.SkipWaitingOnInstall && c.config.SkipWaiting != nil {
		c.config.SkipWaiting()
	}
	return nil
}

func (c *Controller) precache(ctx context.Context, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	target := ref
	if c.config.Origin != nil {
		target = c.config.Origin.ResolveReference(ref)
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	res, err := c.config.Network.RoundTrip(req)
	if err != nil {
		return err
	}
	if _, err := serializer.ReadBody(res); err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("origin answered %s", res.Status)
	}
	return c.store.Put(ctx, req, res)
}

// Activate deletes every generation but the owned one, then claims.
// Failed deletions are logged, activation goes on.
func (c *Controller) Activate(ctx context.Context) error {
	c.setState(Activating)
	names, err := c.config.Storage.Names(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Could not list cache generations")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if name == c.config.Generation {
			continue
		}
		g.Go(func() error {
			c.logger.Info().Str("old", name).Msg("Deleting old cache")
			if _, err := c.config.Storage.Delete(gctx, name); err != nil {
				c.logger.Warn().Err(err).Str("old", name).Msg("Could not delete old cache")
			}
			return nil
		})
	}
	g.Wait()

	if c.config.Claim != nil {
		if err := c.config.Claim(ctx); err != nil {
			return fmt.Errorf("claim: %w", err)
		}
	}
	c.setState(Activated)
	return nil
}

// Retire marks a replaced controller.
func (c *Controller) Retire() {
	c.setState(Redundant)
}

// HandleMessage processes a control message.
// The reply, if the message asks for one, is sent from another goroutine.
func (c *Controller) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case SkipWaitingMessage:
		if c.config.SkipWaiting != nil {
			c.config.SkipWaiting()
		}
		return nil
	case ClearCacheMessage:
		go c.clearCache(context.WithoutCancel(ctx), msg.Reply)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

func (c *Controller) clearCache(ctx context.Context, reply chan<- Reply) {
	_, err := c.config.Storage.Delete(ctx, c.config.Generation)
	if err != nil {
		c.logger.Error().Err(err).Msg("Could not clear cache")
	} else {
		c.logger.Info().Msg("Cache cleared")
	}
	if reply != nil {
		reply <- Reply{Success: err == nil}
	}
}
