package middleware

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func newRecorder() (*tracetest.SpanRecorder, trace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	return sr, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestTracingRecordsSpan(t *testing.T) {
	sr, tp := newRecorder()

	var inner trace.SpanContext
	ch := Tracing(
		WithTracerProvider(tp),
		WithAttributes(attribute.Int64("enginebridge.view_id", 7)),
	)(channel.InvokerFunc(func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		inner = trace.SpanContextFromContext(ctx)
		return true, nil
	}))

	args := protocol.SendMessage{Target: "Player", Name: "Jump", Data: "x"}.Args()
	if _, err := ch.Invoke(context.Background(), protocol.MethodSendMessage, args); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans", len(spans))
	}
	s := spans[0]
	if s.Name() != "enginebridge "+protocol.MethodSendMessage || s.SpanKind() != trace.SpanKindClient {
		t.Errorf("span %q kind %v", s.Name(), s.SpanKind())
	}
	if !inner.IsValid() || inner.SpanID() != s.SpanContext().SpanID() {
		t.Error("span context not passed down the chain")
	}
	for key, want := range map[string]string{
		"enginebridge.target":        "Player",
		"enginebridge.target_method": "Jump",
		"enginebridge.view_id":       "7",
	} {
		if got, _ := attrValue(s.Attributes(), key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v", s.Status())
	}
}

func TestTracingRecordsError(t *testing.T) {
	sr, tp := newRecorder()
	ch := Tracing(WithTracerProvider(tp))(stubChannel(map[string]error{
		protocol.MethodPause: channel.ErrClosed,
	}))

	_, err := ch.Invoke(context.Background(), protocol.MethodPause, nil)
	if !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	s := sr.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v", s.Status())
	}
	if got, _ := attrValue(s.Attributes(), "enginebridge.error_kind"); got != "closed" {
		t.Errorf("error_kind = %q", got)
	}
	if len(s.Events()) == 0 {
		t.Error("error not recorded as span event")
	}
}

func TestTracingFilter(t *testing.T) {
	sr, tp := newRecorder()
	ch := Tracing(WithTracerProvider(tp), WithMethodFilter(func(m string) bool {
		return m != protocol.MethodSendBinaryChunk
	}))(stubChannel(nil))

	ch.Invoke(context.Background(), protocol.MethodSendBinaryChunk, nil)
	ch.Invoke(context.Background(), protocol.MethodCreate, nil)
	if n := len(sr.Ended()); n != 1 {
		t.Errorf("got %d spans, want 1", n)
	}
}
