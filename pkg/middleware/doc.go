// Package middleware provides channel middleware for observing the calls a
// controller makes to the native side.
//
// Middleware wraps a channel.MethodChannel, so it sees every command the
// controller sends, including retries of create and event setup:
//
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	ctrl := engine.New(view.Channel, engine.Config{
//	    Middleware: []channel.Middleware{
//	        middleware.Tracing(),
//	        m.Middleware(),
//	    },
//	})
//
// # Prometheus Metrics
//
// Metrics are registered with promauto on the configured registry:
//   - enginebridge_calls_total: calls by method and status
//   - enginebridge_call_duration_seconds: call latency by method
//   - enginebridge_call_errors_total: failed calls by method and error kind
//   - enginebridge_events_total: native events by type (RecordEvent)
//   - enginebridge_active_views: live controllers (RecordViewCreated/Disposed)
//
// Expose them with promhttp:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # OpenTelemetry
//
// Tracing starts a client span per call named "enginebridge <method>",
// carrying the method and, for message calls, the target. Failed calls are
// recorded on the span with status Error. The span context is passed down
// the chain, so a remote channel's frame write happens inside the span.
package middleware
