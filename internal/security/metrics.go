package security

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const latencyWindow = 1000

// Metrics holds the process-wide request counters and a ring of recent latencies.
type Metrics struct {
	total       atomic.Int64
	active      atomic.Int64
	errors      atomic.Int64
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	rateLimited atomic.Int64
	ipBlocked   atomic.Int64

	mu        sync.Mutex
	latencies [latencyWindow]float64
	next      int
	filled    int

	duration prometheus.Histogram
	registry *prometheus.Registry
}

// Snapshot is a point-in-time copy of the counters. Latencies are in milliseconds.
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	ActiveConnections int64   `json:"active_connections"`
	Errors            int64   `json:"errors"`
	BytesIn           int64   `json:"bytes_in"`
	BytesOut          int64   `json:"bytes_out"`
	RateLimited       int64   `json:"rate_limited"`
	IPBlocked         int64   `json:"ip_blocked"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	P50LatencyMs      float64 `json:"p50_latency_ms"`
	P95LatencyMs      float64 `json:"p95_latency_ms"`
	P99LatencyMs      float64 `json:"p99_latency_ms"`
	LatencySamples    int     `json:"latency_samples"`
}

func NewMetrics() *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.collectors()...)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(v.Load())
		})
	}
	return []prometheus.Collector{
		counter("chat_http_requests_total", "Requests that reached the router", &m.total),
		counter("chat_http_errors_total", "Responses with status 4xx or 5xx", &m.errors),
		counter("chat_http_bytes_in_total", "Request body bytes received", &m.bytesIn),
		counter("chat_http_bytes_out_total", "Response body bytes written", &m.bytesOut),
		counter("chat_rate_limited_total", "Requests rejected by the token bucket", &m.rateLimited),
		counter("chat_ip_blocked_total", "Requests rejected by the IP filter", &m.ipBlocked),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chat_http_active_requests",
			Help: "Requests currently being served",
		}, func() float64 { return float64(m.active.Load()) }),
		m.duration,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRateLimited() { m.rateLimited.Add(1) }

func (m *Metrics) RecordIPBlocked() { m.ipBlocked.Add(1) }

func (m *Metrics) begin(bytesIn int64) {
	m.total.Add(1)
	m.active.Add(1)
	if bytesIn > 0 {
		m.bytesIn.Add(bytesIn)
	}
}

func (m *Metrics) end(status int, bytesOut int64, elapsed time.Duration) {
	m.active.Add(-1)
	if status >= http.StatusBadRequest {
		m.errors.Add(1)
	}
	m.bytesOut.Add(bytesOut)
	m.observe(elapsed)
}

func (m *Metrics) observe(elapsed time.Duration) {
	m.duration.Observe(elapsed.Seconds())

	m.mu.Lock()
	m.latencies[m.next] = float64(elapsed) / float64(time.Millisecond)
	m.next = (m.next + 1) % latencyWindow
	if m.filled < latencyWindow {
		m.filled++
	}
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	sorted := make([]float64, m.filled)
	copy(sorted, m.latencies[:m.filled])
	m.mu.Unlock()

	snap := Snapshot{
		TotalRequests:     m.total.Load(),
		ActiveConnections: m.active.Load(),
		Errors:            m.errors.Load(),
		BytesIn:           m.bytesIn.Load(),
		BytesOut:          m.bytesOut.Load(),
		RateLimited:       m.rateLimited.Load(),
		IPBlocked:         m.ipBlocked.Load(),
		LatencySamples:    len(sorted),
	}
	if len(sorted) == 0 {
		return snap
	}

	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	snap.AvgLatencyMs = sum / float64(len(sorted))
	snap.P50LatencyMs = percentile(sorted, 50)
	snap.P95LatencyMs = percentile(sorted, 95)
	snap.P99LatencyMs = percentile(sorted, 99)
	return snap
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(p / 100 * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Middleware counts the request and records its latency. The active gauge is
// released in a defer so a panicking handler still decrements it once.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.begin(r.ContentLength)

		cw := &countingWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			m.end(cw.status, cw.written, time.Since(start))
		}()

		next.ServeHTTP(cw, r)
	})
}

type countingWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (c *countingWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	n, err := c.ResponseWriter.Write(p)
	c.written += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if flusher, ok := c.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (c *countingWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
