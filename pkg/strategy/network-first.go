package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/0ri0nRo/offline-cache/pkg/fallback"
	"github.com/0ri0nRo/offline-cache/pkg/freshness"
	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
)

// NetworkFirst answers from the network and keeps a stamped copy of every
// successful answer. When the network fails it serves the copy while it is
// fresh, and a synthesized offline answer otherwise.
type NetworkFirst struct {
	base
}

func NewNetworkFirst(network http.RoundTripper, cache Cache, opts Options) *NetworkFirst {
	return &NetworkFirst{base: newBase(network, cache, opts)}
}

// Handle never fails: the caller always gets a response.
func (n *NetworkFirst) Handle(ctx context.Context, req *http.Request) (*http.Response, Outcome) {
	var outcome Outcome
	log := logger(ctx).With().Str("url", req.URL.String()).Logger()

	res, err := n.fetch(ctx, req)
	if err == nil && successful(res) {
		outcome.Stored = n.store(ctx, req, res)
		return res, outcome
	}
	if err == nil {
		err = fmt.Errorf("origin answered %s", res.Status)
	}
	outcome.NetworkErr = err
	log.Debug().Err(err).Msg("Network failed, trying cache")

	if cached, ok := n.lookup(ctx, req); ok {
		if !freshness.ResponseExpired(cached, n.now()) {
			outcome.Hit = true
			return cached, outcome
		}
		outcome.Stale = true
		log.Trace().Msg("Cached response expired")
	}

	outcome.Fallback = true
	return fallback.Synthesize(req, n.now()), outcome
}

// store writes a stamped clone of the response, leaving res itself untouched.
func (n *NetworkFirst) store(ctx context.Context, req *http.Request, res *http.Response) bool {
	clone, err := serializer.Clone(res)
	if err != nil {
		logger(ctx).Warn().Err(err).Msg("Could not clone response")
		return false
	}
	stamped, err := freshness.Stamp(clone, n.now())
	if err != nil {
		// the caller still gets the response, only the cache misses out
		if errors.Is(err, freshness.ErrMalformedJSON) {
			logger(ctx).Warn().Str("url", req.URL.String()).Msg("Not caching malformed JSON")
		} else {
			logger(ctx).Warn().Err(err).Msg("Could not stamp response")
		}
		return false
	}
	return n.put(ctx, req, stamped)
}
