// Package freshness stamps cacheable API responses with their ingestion time
// and decides when a stored response is too old to be served.
package freshness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
	"github.com/klauspost/compress/gzip"
)

const (
	// Window is how long a stamped entry may be served after ingestion.
	// It applies uniformly to all API entries.
	Window = 5 * time.Minute
	// Field is the JSON object member holding the ingestion time in epoch milliseconds.
	Field = "_sw_timestamp"
	// Header mirrors Field, so that non-object JSON bodies can be stamped too.
	Header = "X-Sw-Timestamp"
)

var ErrMalformedJSON = errors.New("freshness: malformed JSON body")

// Stamp returns a new response with the same status and headers as res,
// whose JSON body carries the ingestion time.
// Objects get the Field member; arrays and scalars keep their body as is
// and are stamped through Header only.
// A gzip encoded body is decoded first, the stamped response is identity encoded.
// The body of res is read, but res stays readable and is otherwise left alone.
func Stamp(res *http.Response, now time.Time) (*http.Response, error) {
	body, err := serializer.ReadBody(res)
	if err != nil {
		return nil, err
	}
	gzipped := isGzip(res.Header)
	if gzipped {
		if body, err = gunzip(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
	}
	ms := now.UnixMilli()
	stamped, err := stampBody(body, ms)
	if err != nil {
		return nil, err
	}
	header := res.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Content-Length")
	if gzipped {
		header.Del("Content-Encoding")
	}
	header.Set(Header, strconv.FormatInt(ms, 10))
	out := serializer.NewResponse(res.StatusCode, header, stamped, res.Request)
	out.Status = res.Status
	return out, nil
}

func isGzip(header http.Header) bool {
	enc := strings.TrimSpace(header.Get("Content-Encoding"))
	return strings.EqualFold(enc, "gzip") || strings.EqualFold(enc, "x-gzip")
}

func gunzip(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func stampBody(body []byte, ms int64) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, ErrMalformedJSON
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if _, ok := members[Field]; ok {
		// restamping, rebuild the object instead of adding a duplicate member
		members[Field] = json.RawMessage(strconv.FormatInt(ms, 10))
		return json.Marshal(members)
	}
	// append the member in place, so every other member keeps its exact bytes
	out := make([]byte, 0, len(trimmed)+len(Field)+24)
	out = append(out, trimmed[:len(trimmed)-1]...)
	if len(members) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"`+Field+`":`...)
	out = strconv.AppendInt(out, ms, 10)
	out = append(out, '}')
	return out, nil
}

// Timestamp returns the ingestion time of a stored response.
// The Field member wins over Header. The response body stays readable.
func Timestamp(res *http.Response) (time.Time, bool) {
	body, err := serializer.ReadBody(res)
	if err == nil {
		var stamped struct {
			At *json.Number `json:"_sw_timestamp"`
		}
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &stamped) == nil && stamped.At != nil {
			if ms, err := stamped.At.Int64(); err == nil {
				return time.UnixMilli(ms), true
			}
			if f, err := stamped.At.Float64(); err == nil {
				return time.UnixMilli(int64(f)), true
			}
		}
	}
	if v := res.Header.Get(Header); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
	}
	return time.Time{}, false
}

// Expired reports whether an entry stamped at the given time is too old at now.
// A missing (zero) timestamp is always expired.
func Expired(stampedAt, now time.Time) bool {
	if stampedAt.IsZero() {
		return true
	}
	return now.Sub(stampedAt) > Window
}

// ResponseExpired combines Timestamp and Expired.
func ResponseExpired(res *http.Response, now time.Time) bool {
	at, ok := Timestamp(res)
	if !ok {
		return true
	}
	return Expired(at, now)
}
