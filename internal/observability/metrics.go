package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the application's Prometheus metrics: the HTTP surface
// plus the subscription channel signals.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	channelsOpen    prometheus.Gauge
	eventsDelivered *prometheus.CounterVec
	callbackErrors  *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
}

// NewMetrics initializes the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tanklink_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tanklink_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	channelsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tanklink_subscription_channels_open",
		Help: "Subscription channels currently registered.",
	})
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tanklink_subscription_events_delivered_total",
		Help: "Events delivered to subscribers by channel key.",
	}, []string{"channel"})
	callbackErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tanklink_subscription_callback_errors_total",
		Help: "Subscriber callback failures by channel key.",
	}, []string{"channel"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tanklink_subscription_delivery_seconds",
		Help:    "Time spent delivering one event to one subscriber.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"channel"})
	registry.MustRegister(requests, duration, channelsOpen, delivered, callbackErrors, latency)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		channelsOpen:    channelsOpen,
		eventsDelivered: delivered,
		callbackErrors:  callbackErrors,
		deliveryLatency: latency,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ChannelOpened is part of the subscription observer contract.
func (m *Metrics) ChannelOpened(key string) {
	if m == nil {
		return
	}
	m.channelsOpen.Inc()
}

// ChannelClosed is part of the subscription observer contract.
func (m *Metrics) ChannelClosed(key string) {
	if m == nil {
		return
	}
	m.channelsOpen.Dec()
}

// EventDelivered is part of the subscription observer contract.
func (m *Metrics) EventDelivered(key string, latency time.Duration) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(key).Inc()
	m.deliveryLatency.WithLabelValues(key).Observe(latency.Seconds())
}

// CallbackError is part of the subscription observer contract.
func (m *Metrics) CallbackError(key string) {
	if m == nil {
		return
	}
	m.callbackErrors.WithLabelValues(key).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
