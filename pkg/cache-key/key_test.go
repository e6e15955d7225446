package cachekey

import (
	"errors"
	"net/http"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://dev.localhost/api_sensors?room=1", nil)
	key := Key(r)
	req, err := RequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "http://dev.localhost/api_sensors?room=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if req.Method != "GET" {
		t.Fatalf("Method is %s", req.Method)
	}
}

func TestKeyIgnoresFragment(t *testing.T) {
	a, _ := http.NewRequest("GET", "http://dev.localhost/page#top", nil)
	b, _ := http.NewRequest("GET", "http://dev.localhost/page", nil)
	if Key(a) != Key(b) {
		t.Fatalf("Keys differ: %s vs %s", Key(a), Key(b))
	}
}

func TestKeyIncludesMethod(t *testing.T) {
	get, _ := http.NewRequest("GET", "http://dev.localhost/page", nil)
	head, _ := http.NewRequest("HEAD", "http://dev.localhost/page", nil)
	if Key(get) == Key(head) {
		t.Fatalf("GET and HEAD share key %s", Key(get))
	}
}

func TestMalformedKey(t *testing.T) {
	if _, err := RequestFromKey("nonsense"); !errors.Is(err, ErrorMalformedKey) {
		t.Fatalf("Error is %v", err)
	}
}
