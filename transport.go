package offlinecache

import (
	"net/http"

	tee "github.com/0ri0nRo/offline-cache/pkg/response-writer-tee"
)

// HandlerTransport uses an in-process http.Handler as the network.
// It lets the caching layer sit in front of a handler like a middleware.
type HandlerTransport struct {
	Handler http.Handler
}

func (t HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// handlers expect server requests
	r := req.Clone(req.Context())
	r.RequestURI = req.URL.RequestURI()
	if r.Host == "" {
		r.Host = req.URL.Host
	}
	rw := tee.NewResponseSaver()
	t.Handler.ServeHTTP(rw, r)
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	return rw.Result(req), nil
}

// Middleware creates a service in front of next.
// Serve requests through the returned service once a worker is registered.
func Middleware(config Config, next http.Handler) (*Service, error) {
	config.Network = HandlerTransport{Handler: next}
	return New(config)
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
		// let the network negotiate and decode compression, stored bodies must be plain
		req.Header.Del("Accept-Encoding")
	}
}
