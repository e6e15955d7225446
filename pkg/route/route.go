// Package route decides how the caching layer handles a request.
package route

import (
	"net/http"
	"net/url"
	"strings"
)

// Disposition is what the caching layer does with a request.
type Disposition int

const (
	// Passthrough requests are not intercepted at all.
	Passthrough Disposition = iota
	// NetworkFirst is for live API data.
	NetworkFirst
	// CacheFirst is for same-origin static resources.
	CacheFirst
)

func (d Disposition) String() string {
	switch d {
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	default:
		return "passthrough"
	}
}

// DefaultMarkers are the path fragments of the dashboard's live data APIs.
var DefaultMarkers = []string{
	"/api_sensors",
	"/api/p48",
	"/api/devices",
	"/security/alarm",
}

// DefaultBypass are same-origin path prefixes that must never be cached.
// The todo list API is read and written by the page and always goes to the network.
var DefaultBypass = []string{
	"/todolist/",
}

// Router classifies requests. The zero value knows no markers and no origin.
type Router struct {
	// Origin is the page's own origin.
	Origin *url.URL
	// Markers are the path fragments of network-first APIs.
	Markers []string
	// Bypass are path prefixes that pass through even when same-origin.
	Bypass []string
}

// New creates a router with the default markers and bypass prefixes plus the given extras.
func New(origin *url.URL, markers, bypass []string) Router {
	return Router{
		Origin:  origin,
		Markers: append(append([]string{}, DefaultMarkers...), markers...),
		Bypass:  append(append([]string{}, DefaultBypass...), bypass...),
	}
}

// Classify returns the disposition of the request. It performs no I/O.
// API markers are checked before the origin, so a same-origin API request
// is always network-first.
func (r Router) Classify(req *http.Request) Disposition {
	if req.Method != http.MethodGet && req.Method != "" {
		return Passthrough
	}
	path := req.URL.Path
	for _, marker := range r.Markers {
		if marker != "" && strings.Contains(path, marker) {
			return NetworkFirst
		}
	}
	for _, prefix := range r.Bypass {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return Passthrough
		}
	}
	if r.sameOrigin(req.URL) {
		return CacheFirst
	}
	return Passthrough
}

// sameOrigin reports whether u has the router's origin.
// Relative URLs come from the page itself.
func (r Router) sameOrigin(u *url.URL) bool {
	if u.Host == "" {
		return true
	}
	if r.Origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.Origin.Scheme) &&
		strings.EqualFold(hostPort(u), hostPort(r.Origin))
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return u.Hostname() + ":" + port
}
