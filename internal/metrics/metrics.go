package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "realty"

// Registry owns every collector exported by the gateway and the search service.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	proxyRequests  *prometheus.CounterVec
	proxyDuration  *prometheus.HistogramVec
	upstreamHealth *prometheus.GaugeVec

	eventsPublished *prometheus.CounterVec
	eventsConsumed  *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	indexOps *prometheus.CounterVec
}

// New creates a registry with process and Go runtime collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by service and outcome",
		}, []string{"service", "outcome"}),

		proxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "proxy_duration_seconds",
			Help:      "Upstream call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),

		upstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "upstream_healthy",
			Help:      "Last health probe result per upstream (1=healthy)",
		}, []string{"service"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by topic and result",
		}, []string{"topic", "result"}),

		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Events consumed by type and result (ok, error, dropped, decode_error)",
		}, []string{"event_type", "result"}),

		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Event handler latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		indexOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "index_operations_total",
			Help:      "Index writes by operation and result (ok, error, stale)",
		}, []string{"operation", "result"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.proxyRequests,
		r.proxyDuration,
		r.upstreamHealth,
		r.eventsPublished,
		r.eventsConsumed,
		r.handlerDuration,
		r.indexOps,
	)
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
}

func (r *Registry) ObserveProxy(service, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.proxyRequests.WithLabelValues(service, outcome).Inc()
	r.proxyDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

func (r *Registry) SetUpstreamHealth(service string, healthy bool) {
	if r == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	r.upstreamHealth.WithLabelValues(service).Set(value)
}

func (r *Registry) EventPublished(topic string, err error) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(topic, result(err)).Inc()
}

func (r *Registry) EventConsumed(eventType, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.eventsConsumed.WithLabelValues(eventType, outcome).Inc()
	if elapsed > 0 {
		r.handlerDuration.WithLabelValues(eventType).Observe(elapsed.Seconds())
	}
}

func (r *Registry) IndexOperation(operation, outcome string) {
	if r == nil {
		return
	}
	r.indexOps.WithLabelValues(operation, outcome).Inc()
}

// StatusOutcome labels a proxied response by status class, e.g. "2xx".
func StatusOutcome(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
