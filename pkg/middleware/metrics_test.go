package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	ierrors "github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

// stubChannel fails the methods listed in errs and succeeds otherwise.
func stubChannel(errs map[string]error) channel.MethodChannel {
	return channel.InvokerFunc(func(_ context.Context, method string, _ map[string]any) (any, error) {
		if err := errs[method]; err != nil {
			return nil, err
		}
		return true, nil
	})
}

func TestMetricsMiddlewareRecordsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))

	inner := stubChannel(map[string]error{
		protocol.MethodCreate: fmt.Errorf("%w: view 1", channel.ErrNotRegistered),
	})
	ch := m.Middleware()(inner)
	ctx := context.Background()

	ch.Invoke(ctx, protocol.MethodCreate, nil)
	ch.Invoke(ctx, protocol.MethodCreate, nil)
	ch.Invoke(ctx, protocol.MethodSendMessage, map[string]any{"target": "Echo"})

	if got := metricCounterValue(t, m.calls.WithLabelValues(protocol.MethodCreate, "error")); got != 2 {
		t.Errorf("create errors = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.failures.WithLabelValues(protocol.MethodCreate, "not_registered")); got != 2 {
		t.Errorf("not_registered = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.calls.WithLabelValues(protocol.MethodSendMessage, "success")); got != 1 {
		t.Errorf("send successes = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.latency.WithLabelValues(protocol.MethodCreate)); got != 2 {
		t.Errorf("create duration samples = %d, want 2", got)
	}
}

func TestMetricsViewsAndEvents(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))
	m.RecordViewCreated()
	m.RecordViewCreated()
	m.RecordViewDisposed()
	m.RecordEvent(protocol.EventMessage)

	if got := metricGaugeValue(t, m.activeViews); got != 1 {
		t.Errorf("active views = %v", got)
	}
	if got := metricCounterValue(t, m.events.WithLabelValues(string(protocol.EventMessage))); got != 1 {
		t.Errorf("events = %v", got)
	}
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Two bridges in one process must not collide.
	NewMetrics(WithRegistry(prometheus.NewRegistry()))
	NewMetrics(WithRegistry(prometheus.NewRegistry()))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", channel.ErrNotRegistered), "not_registered"},
		{channel.ErrClosed, "closed"},
		{context.DeadlineExceeded, "timeout"},
		{&protocol.CallError{Code: protocol.ErrTransferIntegrity}, "remote_TransferIntegrity"},
		{ierrors.New(ierrors.CodeChecksumMismatch), "checksum_mismatch"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
