package offlinecache

import (
	"fmt"
	"io"
	"time"

	"github.com/0ri0nRo/offline-cache/pkg/route"
	"github.com/VictoriaMetrics/metrics"
)

// serviceMetrics are the counters of one Service.
// Each Service has its own set, so several can live in one process.
type serviceMetrics struct {
	set *metrics.Set
}

func newServiceMetrics() serviceMetrics {
	return serviceMetrics{set: metrics.NewSet()}
}

func (m serviceMetrics) counter(name string, d route.Disposition) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`offline_cache_%s{disposition=%q}`, name, d.String()))
}

// observe records one intercepted request.
func (m serviceMetrics) observe(d route.Disposition, cs CacheStatus, networkFailed bool, started time.Time) {
	m.counter("requests_total", d).Inc()
	m.set.GetOrCreateHistogram(fmt.Sprintf(`offline_cache_request_duration_seconds{disposition=%q}`, d.String())).
		UpdateDuration(started)
	if d == route.Passthrough {
		return
	}
	if cs.IsHit() {
		m.counter("cache_hits_total", d).Inc()
	} else {
		m.counter("cache_misses_total", d).Inc()
	}
	if cs.stored {
		m.counter("cache_writes_total", d).Inc()
	}
	if cs.detail == detailFallback {
		m.counter("fallbacks_total", d).Inc()
	}
	if networkFailed {
		m.counter("network_errors_total", d).Inc()
	}
}

func (m serviceMetrics) generationChanged() {
	m.set.GetOrCreateCounter("offline_cache_activations_total").Inc()
}

// WritePrometheus writes the service metrics in Prometheus text format.
func (m serviceMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
