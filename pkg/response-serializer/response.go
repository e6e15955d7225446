package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// NewResponse creates an in-memory HTTP/1.1 response with the given body.
func NewResponse(status int, header http.Header, body []byte, req *http.Request) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// ReadBody reads the whole response body and sets the body back,
// so that the response can still be consumed by the caller.
func ReadBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return []byte{}, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return body, nil
}

// Clone returns a copy of the response with its own header and body.
// Responses are single-read, so the original body is buffered in the process.
func Clone(res *http.Response) (*http.Response, error) {
	body, err := ReadBody(res)
	if err != nil {
		return nil, err
	}
	clone := NewResponse(res.StatusCode, res.Header.Clone(), body, res.Request)
	clone.Status = res.Status
	clone.Trailer = res.Trailer.Clone()
	return clone, nil
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
// The body of the response is set back, so the response stays readable.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	clone, err := Clone(res)
	if err != nil {
		return nil, err
	}
	// the stored form is always a plain, length-delimited HTTP/1.1 response
	clone.TransferEncoding = nil
	clone.Header.Del("Transfer-Encoding")
	clone.Header.Del("Content-Length")
	buf := &bytes.Buffer{}
	if err := clone.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToResponse converts a byte slice created by ResponseToBytes back to a response.
// The request is attached to the returned response.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return nil, err
	}
	// detach the body from the stored bytes
	if _, err := ReadBody(res); err != nil {
		return nil, err
	}
	return res, nil
}
