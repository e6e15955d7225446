// Package fallback synthesizes placeholder payloads for API requests that could
// be served neither from the network nor from the cache.
//
// The payloads have the shape the dashboard expects from each endpoint family,
// so rendering code does not need offline-specific branches.
package fallback

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	serializer "github.com/0ri0nRo/offline-cache/pkg/response-serializer"
)

// Message is the message of every object-shaped placeholder.
const Message = "No cached data available"

// Placeholder is the value shown in place of unavailable readings.
const Placeholder = "--"

// Builder creates the placeholder body for one endpoint family.
type Builder func(now time.Time) any

// Shape binds a path marker to its builder.
type Shape struct {
	Marker string
	Build  Builder
}

// Shapes is the table of known endpoint families, checked in order.
var Shapes = []Shape{
	{Marker: "/api_sensors", Build: sensors},
	{Marker: "/api/p48", Build: cachedValue},
	{Marker: "/api/devices", Build: devices},
	{Marker: "/security/alarm", Build: alarm},
}

// Object is the default placeholder, also the base of the object-shaped ones.
func Object(now time.Time) map[string]any {
	return map[string]any{
		"error":     true,
		"offline":   true,
		"message":   Message,
		"timestamp": now.UnixMilli(),
	}
}

func reading() map[string]any {
	return map[string]any{
		"current":           Placeholder,
		"minMaxLast24Hours": []string{Placeholder, Placeholder},
		"chartData":         []string{},
	}
}

func sensors(now time.Time) any {
	body := Object(now)
	body["temperature"] = reading()
	humidity := reading()
	humidity["average"] = Placeholder
	body["humidity"] = humidity
	body["labels"] = []string{}
	return body
}

func cachedValue(now time.Time) any {
	body := Object(now)
	body["cached_value"] = Placeholder
	return body
}

// list endpoints return arrays, not objects
func devices(time.Time) any {
	return []any{}
}

// alarm state is [status, timestamp], disarmed while offline
func alarm(now time.Time) any {
	return []string{"false", now.UTC().Format(time.RFC3339)}
}

// Body returns the placeholder value for the given request path.
// The first shape whose marker the path contains wins,
// the default object is used when no marker matches.
func Body(path string, now time.Time) any {
	for _, s := range Shapes {
		if strings.Contains(path, s.Marker) {
			return s.Build(now)
		}
	}
	return Object(now)
}

// Synthesize returns a successful JSON response with the placeholder for the request.
func Synthesize(req *http.Request, now time.Time) *http.Response {
	path := ""
	if req != nil && req.URL != nil {
		path = req.URL.Path
	}
	body, err := json.Marshal(Body(path, now))
	if err != nil {
		// builders only produce maps, slices and strings
		body = []byte(`{"error":true,"offline":true}`)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return serializer.NewResponse(http.StatusOK, header, body, req)
}
