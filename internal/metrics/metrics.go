// Package metrics exposes Prometheus collectors for gateway traffic and
// persistence writes.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Registry holds the kotoshop collectors.
	Registry = prometheus.NewRegistry()

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kotoshop",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of API requests issued.",
		},
		[]string{"method", "path", "status"},
	)

	duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kotoshop",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	forcedLogouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kotoshop",
			Subsystem: "gateway",
			Name:      "forced_logouts_total",
			Help:      "Sessions cleared because the API answered 401.",
		},
	)

	persistWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kotoshop",
			Subsystem: "persist",
			Name:      "writes_total",
			Help:      "Slice snapshots written to durable storage.",
		},
		[]string{"key", "result"},
	)
)

func init() {
	Registry.MustRegister(requests, duration, forcedLogouts, persistWrites)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StatusTransport labels requests that never got a response.
const StatusTransport = "transport"

// RecordRequest records one gateway round trip. status 0 means the request
// failed before a response arrived.
func RecordRequest(method, path string, status int, d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	method = strings.ToUpper(method)
	path = canonicalPath(path)
	label := StatusTransport
	if status > 0 {
		label = strconv.Itoa(status)
	}
	requests.WithLabelValues(method, path, label).Inc()
	duration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordForcedLogout counts a 401-triggered logout.
func RecordForcedLogout() {
	forcedLogouts.Inc()
}

// RecordPersist records a snapshot write for a slice key.
func RecordPersist(key string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	persistWrites.WithLabelValues(key, result).Inc()
}

// EndpointStat is one row of Summary.
type EndpointStat struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
	Status string `json:"status" yaml:"status"`
	Count  int64  `json:"count" yaml:"count"`
}

// Summary reads the request counter back from the registry, sorted by
// path, method, status.
func Summary() ([]EndpointStat, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}

	var out []EndpointStat
	for _, mf := range families {
		if mf.GetName() != "kotoshop_gateway_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := labelMap(m.GetLabel())
			out = append(out, EndpointStat{
				Method: labels["method"],
				Path:   labels["path"],
				Status: labels["status"],
				Count:  int64(m.GetCounter().GetValue()),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// ForcedLogouts returns the current forced logout count.
func ForcedLogouts() int64 {
	m := &dto.Metric{}
	if err := forcedLogouts.Write(m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.GetName()] = p.GetValue()
	}
	return out
}

// canonicalPath drops the query string so product ids do not explode
// label cardinality.
func canonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}
