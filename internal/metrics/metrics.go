// Package metrics collects request, stream, and agent invocation metrics and
// exposes them as Prometheus text and as a JSON snapshot.
package metrics

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/langline/langline/internal/storage"
)

// routeSampleCap bounds the per-route latency ring buffer used for the JSON
// quantile snapshot.
const routeSampleCap = 512

// Collector owns the Prometheus registry and a parallel in-process view used
// by the JSON endpoint.
type Collector struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
	requestDuration *prometheus.SummaryVec
	activeStreams   prometheus.Gauge
	agentTotal      *prometheus.CounterVec

	startedAt time.Time

	mu      sync.Mutex
	routes  map[string]*routeStats
	streams int64
	agents  map[string]*agentStats
}

type routeStats struct {
	count   int64
	errors  int64
	samples []float64 // seconds, ring buffer
	next    int
}

type agentStats struct {
	invocations int64
	errors      int64
}

// New creates a collector. countsFn, when non-nil, is polled on scrape to
// report stored resource gauges.
func New(countsFn func(ctx context.Context) (storage.Counts, error)) *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now().UTC(),
		routes:    make(map[string]*routeStats),
		agents:    make(map[string]*agentStats),
	}

	c.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langline_requests_total",
		Help: "HTTP requests by method, route, and status code.",
	}, []string{"method", "route", "status"})

	c.errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langline_request_errors_total",
		Help: "HTTP responses with status >= 400.",
	}, []string{"method", "route", "status"})

	c.requestDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "langline_request_duration_seconds",
		Help:       "HTTP request latency.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"method", "route"})

	c.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "langline_active_streams",
		Help: "Currently open SSE streams.",
	})

	c.agentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "langline_agent_invocations_total",
		Help: "Agent graph invocations by graph and outcome.",
	}, []string{"graph_id", "outcome"})

	c.registry.MustRegister(c.requestTotal, c.errorTotal, c.requestDuration, c.activeStreams, c.agentTotal)

	if countsFn != nil {
		for _, g := range []struct {
			name string
			get  func(storage.Counts) int
		}{
			{"langline_assistants", func(n storage.Counts) int { return n.Assistants }},
			{"langline_threads", func(n storage.Counts) int { return n.Threads }},
			{"langline_runs", func(n storage.Counts) int { return n.Runs }},
			{"langline_store_items", func(n storage.Counts) int { return n.StoreItems }},
			{"langline_crons", func(n storage.Counts) int { return n.Crons }},
		} {
			get := g.get
			c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: g.name,
				Help: "Stored resource count.",
			}, func() float64 {
				counts, err := countsFn(context.Background())
				if err != nil {
					return 0
				}
				return float64(get(counts))
			}))
		}
	}

	return c
}

// ObserveRequest records one finished HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	statusLabel := statusText(status)
	c.requestTotal.WithLabelValues(method, route, statusLabel).Inc()
	if status >= 400 {
		c.errorTotal.WithLabelValues(method, route, statusLabel).Inc()
	}
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())

	key := method + " " + route
	c.mu.Lock()
	stats, ok := c.routes[key]
	if !ok {
		stats = &routeStats{}
		c.routes[key] = stats
	}
	stats.count++
	if status >= 400 {
		stats.errors++
	}
	if len(stats.samples) < routeSampleCap {
		stats.samples = append(stats.samples, duration.Seconds())
	} else {
		stats.samples[stats.next] = duration.Seconds()
		stats.next = (stats.next + 1) % routeSampleCap
	}
	c.mu.Unlock()
}

// StreamOpened and StreamClosed track open SSE connections.
func (c *Collector) StreamOpened() {
	c.activeStreams.Inc()
	c.mu.Lock()
	c.streams++
	c.mu.Unlock()
}

func (c *Collector) StreamClosed() {
	c.activeStreams.Dec()
	c.mu.Lock()
	c.streams--
	c.mu.Unlock()
}

// ActiveStreams returns the number of open SSE connections. Shutdown uses
// it to drain streams before closing storage.
func (c *Collector) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.streams)
}

// ObserveAgentInvocation records one graph invocation outcome.
func (c *Collector) ObserveAgentInvocation(graphID string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	c.agentTotal.WithLabelValues(graphID, outcome).Inc()

	c.mu.Lock()
	stats, ok := c.agents[graphID]
	if !ok {
		stats = &agentStats{}
		c.agents[graphID] = stats
	}
	stats.invocations++
	if failed {
		stats.errors++
	}
	c.mu.Unlock()
}

// Handler serves the Prometheus text exposition for this registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Snapshot builds the JSON view: uptime, per-route latency quantiles, open
// streams, and agent invocation tallies.
func (c *Collector) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	routes := make(map[string]any, len(c.routes))
	for key, stats := range c.routes {
		routes[key] = map[string]any{
			"count":  stats.count,
			"errors": stats.errors,
			"p50_ms": quantileMS(stats.samples, 0.50),
			"p90_ms": quantileMS(stats.samples, 0.90),
			"p99_ms": quantileMS(stats.samples, 0.99),
		}
	}

	agents := make(map[string]any, len(c.agents))
	for graphID, stats := range c.agents {
		agents[graphID] = map[string]any{
			"invocations": stats.invocations,
			"errors":      stats.errors,
		}
	}

	return map[string]any{
		"uptime_seconds": int64(time.Since(c.startedAt).Seconds()),
		"active_streams": c.streams,
		"routes":         routes,
		"agents":         agents,
	}
}

func quantileMS(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx] * 1000
}

func statusText(status int) string {
	return strconv.Itoa(status)
}
