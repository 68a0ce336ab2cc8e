package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the collectors of one server. All methods are safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	Connections   prometheus.Gauge
	OnlineUsers   prometheus.Gauge
	InboundEvents *prometheus.CounterVec
	Broadcasts    *prometheus.CounterVec
	ErrorReplies  *prometheus.CounterVec
	HTTPRequests  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users with at least one connection on this instance",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_inbound_events_total",
			Help: "Inbound websocket events by name",
		}, []string{"event"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Outbound room broadcasts by event",
		}, []string{"event"}),
		ErrorReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_error_replies_total",
			Help: "Error replies sent to callers by code",
		}, []string{"code"}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "REST request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.OnlineUsers,
		m.InboundEvents,
		m.Broadcasts,
		m.ErrorReplies,
		m.HTTPRequests,
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) UserOnline() {
	if m != nil {
		m.OnlineUsers.Inc()
	}
}

func (m *Metrics) UserOffline() {
	if m != nil {
		m.OnlineUsers.Dec()
	}
}

func (m *Metrics) Inbound(event string) {
	if m != nil {
		m.InboundEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Broadcast(event string) {
	if m != nil {
		m.Broadcasts.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) ErrorReply(code string) {
	if m != nil {
		m.ErrorReplies.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
	}
}
