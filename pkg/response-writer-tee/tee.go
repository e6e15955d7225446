package tee

import (
	"bytes"
	"net/http"

	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
)

// ResponseSaver is an http.ResponseWriter that saves the response in memory.
// It lets an http.Handler act as the network for the caching layer.
type ResponseSaver struct {
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	// only the first call counts, like with a real connection
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	// later header mutations must not leak into the saved response
	t.header = t.header.Clone()
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.b.Write(b)
}

// StatusCode returns the status code of the response.
// It is 200 if the handler did not write anything.
func (t *ResponseSaver) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// Result returns the saved response as an *http.Response for the given request.
func (t *ResponseSaver) Result(req *http.Request) *http.Response {
	header := t.header.Clone()
	header.Del("Content-Length")
	body := make([]byte, t.b.Len())
	copy(body, t.b.Bytes())
	return serializer.NewResponse(t.StatusCode(), header, body, req)
}

// NewResponseSaver returns a new ResponseSaver.
func NewResponseSaver() *ResponseSaver {
	return &ResponseSaver{
		b:         &bytes.Buffer{},
		header:    http.Header{},
	}
}
