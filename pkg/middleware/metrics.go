package middleware

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ierrors "github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// MetricsConfig names and places the collectors.
type MetricsConfig struct {
	Namespace   string // default "enginebridge"
	Subsystem   string
	ConstLabels prometheus.Labels

	// Buckets for enginebridge_call_duration_seconds. Defaults to
	// prometheus.DefBuckets.
	Buckets []float64

	// Registry receives the collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption adjusts a MetricsConfig.
type MetricsOption func(*MetricsConfig)

func WithNamespace(ns string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = ns }
}

func WithSubsystem(sub string) MetricsOption {
	return func(c *MetricsConfig) { c.Subsystem = sub }
}

func WithConstLabels(l prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = l }
}

func WithBuckets(b []float64) MetricsOption {
	return func(c *MetricsConfig) { c.Buckets = b }
}

func WithRegistry(r prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = r }
}

// Metrics holds the bridge's Prometheus collectors. Create one per
// registry; registering a second set on the same registry panics.
type Metrics struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	failures    *prometheus.CounterVec
	events      *prometheus.CounterVec
	activeViews prometheus.Gauge
}

// NewMetrics registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "enginebridge",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "enginebridge"
	}

	auto := promauto.With(cfg.Registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: name, Help: help,
		}, labels)
	}

	return &Metrics{
		calls:    counter("calls_total", "Channel calls to the native side by method and status.", "method", "status"),
		failures: counter("call_errors_total", "Failed channel calls by method and error kind.", "method", "error_kind"),
		events:   counter("events_total", "Native events received by type.", "event"),
		latency: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name:    "call_duration_seconds",
			Help:    "Channel call latency.",
			Buckets: cfg.Buckets,
		}, []string{"method"}),
		activeViews: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "active_views",
			Help: "Live engine controllers.",
		}),
	}
}

// Middleware returns channel middleware that counts and times every call.
func (m *Metrics) Middleware() channel.Middleware {
	return func(next channel.MethodChannel) channel.MethodChannel {
		return channel.InvokerFunc(func(ctx context.Context, method string, args map[string]any) (any, error) {
			timer := prometheus.NewTimer(m.latency.WithLabelValues(method))
			res, err := next.Invoke(ctx, method, args)
			timer.ObserveDuration()

			if err != nil {
				m.failures.WithLabelValues(method, ErrorKind(err)).Inc()
				m.calls.WithLabelValues(method, "error").Inc()
				return res, err
			}
			m.calls.WithLabelValues(method, "success").Inc()
			return res, nil
		})
	}
}

// RecordEvent counts one native event.
func (m *Metrics) RecordEvent(t protocol.EventType) {
	m.events.WithLabelValues(string(t)).Inc()
}

// RecordViewCreated increments the active view gauge.
func (m *Metrics) RecordViewCreated() {
	m.activeViews.Inc()
}

// RecordViewDisposed decrements the active view gauge.
func (m *Metrics) RecordViewDisposed() {
	m.activeViews.Dec()
}

// ErrorKind returns a low-cardinality label for err.
func ErrorKind(err error) string {
	var ce *protocol.CallError
	switch {
	case errors.Is(err, channel.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, channel.ErrClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &ce):
		return "remote_" + ce.Code.String()
	}
	if k := ierrors.KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}
