package strategy

import (
	"context"
	"net/http"

	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
)

// CacheFirst serves stored responses without asking the network.
// On a miss it fetches and stores successful answers.
type CacheFirst struct {
	base
}

func NewCacheFirst(network http.RoundTripper, cache Cache, opts Options) *CacheFirst {
	return &CacheFirst{base: newBase(network, cache, opts)}
}

// Handle returns the network error only when nothing is stored for the request.
func (c *CacheFirst) Handle(ctx context.Context, req *http.Request) (*http.Response, Outcome, error) {
	var outcome Outcome
	if cached, ok := c.lookup(ctx, req); ok {
		outcome.Hit = true
		return cached, outcome, nil
	}

	res, err := c.fetch(ctx, req)
	if err != nil {
		outcome.NetworkErr = err
		return nil, outcome, err
	}
	if successful(res) {
		clone, err := serializer.Clone(res)
		if err == nil {
			outcome.Stored = c.put(ctx, req, clone)
		}
	}
	return res, outcome, nil
}
