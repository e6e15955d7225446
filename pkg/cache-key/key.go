package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = " "

// Key returns the cache key for a request.
// Entries are keyed by the exact request, i.e. the method and the absolute URL.
// The URL fragment never reaches the network and is not part of the key.
func Key(r *http.Request) string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + methodSeparator + u.String()
}

// RequestFromKey creates a request that yields the given key.
// It returns an error if the key was not created by Key.
func RequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}
