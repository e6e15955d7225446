package tee

import (
	"io"
	"net/http"
	"testing"
)

func TestSavesHandlerOutput(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
		// too late, must not show up
		w.Header().Set("X-Late", "1")
	})
	req, _ := http.NewRequest("GET", "http://localhost/api/devices", nil)
	rs := NewResponseSaver()
	handler.ServeHTTP(rs, req)

	res := rs.Result(req)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if res.Header.Get("Content-Type") != "application/json" || res.Header.Get("X-Late") != "" {
		t.Fatalf("Header is %+v", res.Header)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != `{"ok":true}` {
		t.Fatalf("Body is %s", body)
	}
	if res.Request != req {
		t.Fatal("Request not attached")
	}
}

func TestImplicitOK(t *testing.T) {
	rs := NewResponseSaver()
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
	rs.Write([]byte("Hello world"))
	if body, _ := io.ReadAll(rs.Result(nil).Body); string(body) != "Hello world" {
		t.Fatalf("Body is %s", body)
	}
}
