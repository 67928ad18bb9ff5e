package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/enginebridge/pkg/channel"
)

// Default tracer name for engine bridge spans.
const defaultTracerName = "enginebridge"

// OTelConfig configures the tracing middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "enginebridge").
	TracerName string

	// TracerProvider overrides the global provider.
	TracerProvider trace.TracerProvider

	// Attributes are added to every span, e.g. the view id and engine.
	Attributes []attribute.KeyValue

	// Filter determines which methods to trace. If nil, all calls are
	// traced.
	Filter func(method string) bool
}

// OTelOption configures the tracing middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithAttributes adds constant span attributes.
func WithAttributes(attrs ...attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.Attributes = append(c.Attributes, attrs...)
	}
}

// WithMethodFilter sets a filter function for methods.
func WithMethodFilter(filter func(method string) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// Tracing creates middleware that wraps every channel call in a client span.
//
// The tracer comes from the global OpenTelemetry provider unless one is set
// with WithTracerProvider. Configure the global provider in main():
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func Tracing(opts ...OTelOption) channel.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.TracerProvider != nil {
		tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}

	return func(next channel.MethodChannel) channel.MethodChannel {
		return channel.InvokerFunc(func(ctx context.Context, method string, args map[string]any) (any, error) {
			if config.Filter != nil && !config.Filter(method) {
				return next.Invoke(ctx, method, args)
			}

			attrs := append([]attribute.KeyValue{
				attribute.String("enginebridge.method", method),
			}, config.Attributes...)
			if target, ok := args["target"].(string); ok {
				attrs = append(attrs, attribute.String("enginebridge.target", target))
			}
			if name, ok := args["method"].(string); ok {
				attrs = append(attrs, attribute.String("enginebridge.target_method", name))
			}

			ctx, span := tracer.Start(ctx, fmt.Sprintf("enginebridge %s", method),
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			res, err := next.Invoke(ctx, method, args)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.String("enginebridge.error_kind", ErrorKind(err)))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return res, err
		})
	}
}
