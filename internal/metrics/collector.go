// Package metrics exposes Prometheus collectors for the generation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediagen/internal/engine"
	"mediagen/internal/ratelimit"
)

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	generationsTotal *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	blocksTotal      *prometheus.CounterVec
	blockSeconds     *prometheus.HistogramVec
	fallbacksTotal   prometheus.Counter
	triggerAttempts  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.generationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generations_finished_total",
		Help:      "Generations that reached a terminal state, by model and status.",
	}, []string{"model", "status"})

	c.providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Outbound provider calls through the rate-limit gate, by outcome.",
	}, []string{"provider", "scope", "outcome"})

	c.blocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_blocks_total",
		Help:      "Temporary blocks set after provider rate limits.",
	}, []string{"provider", "scope"})

	c.blockSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_block_seconds",
		Help:      "Retry-after of temporary blocks in seconds.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 900},
	}, []string{"provider", "scope"})

	c.fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "materialize_fallbacks_total",
		Help:      "Outputs kept at their provider URL because storing them failed.",
	})

	c.triggerAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_attempts_total",
		Help:      "Processing trigger attempts, by outcome.",
	}, []string{"outcome"})

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	c.registry.MustRegister(
		c.generationsTotal,
		c.providerCalls,
		c.blocksTotal,
		c.blockSeconds,
		c.fallbacksTotal,
		c.triggerAttempts,
		c.httpRequests,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) GenerationFinished(modelID string, status engine.Status) {
	c.generationsTotal.WithLabelValues(modelID, string(status)).Inc()
}

func (c *Collector) ProviderCall(key ratelimit.Key, outcome string) {
	c.providerCalls.WithLabelValues(key.Provider, key.Scope, outcome).Inc()
}

func (c *Collector) BlockSet(key ratelimit.Key, retryAfter time.Duration) {
	c.blocksTotal.WithLabelValues(key.Provider, key.Scope).Inc()
	c.blockSeconds.WithLabelValues(key.Provider, key.Scope).Observe(retryAfter.Seconds())
}

// OutputFallback matches the materializer's OnFallback hook.
func (c *Collector) OutputFallback(generationID string, index int, err error) {
	c.fallbacksTotal.Inc()
}

func (c *Collector) TriggerAttempt(outcome string) {
	c.triggerAttempts.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

var (
	_ engine.Observer    = (*Collector)(nil)
	_ ratelimit.Observer = (*Collector)(nil)
)
