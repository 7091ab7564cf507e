package oteladapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/oteladapters"
	"github.com/AntonStoeckl/dcb-eventstore-go/testutil/observability/testdoubles"
)

func givenTracingCollector() (*oteladapters.TracingCollector, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return oteladapters.NewTracingCollector(provider.Tracer("test")), recorder
}

func attributeValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString(), true
		}
	}

	return "", false
}

func Test_TracingCollector_StartAndFinishSpan(t *testing.T) {
	// arrange
	collector, recorder := givenTracingCollector()

	// act
	ctx, span := collector.StartSpan(t.Context(), "EventStore.Append", map[string]string{"operation": "append"})
	span.AddAttribute("event_count", "2")
	collector.FinishSpan(span, "success", map[string]string{"last_position": "7"})

	// assert
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "EventStore.Append", ended[0].Name())
	assert.Equal(t, trace.SpanKindClient, ended[0].SpanKind())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)

	for key, want := range map[string]string{"operation": "append", "event_count": "2", "last_position": "7"} {
		got, ok := attributeValue(ended[0].Attributes(), key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	testCases := []struct {
		name     string
		status   string
		wantCode codes.Code
	}{
		{name: "success", status: "success", wantCode: codes.Ok},
		{name: "idempotent command", status: "idempotent", wantCode: codes.Ok},
		{name: "error", status: "error", wantCode: codes.Error},
		{name: "canceled", status: "canceled", wantCode: codes.Error},
		{name: "conflict", status: "conflict", wantCode: codes.Error},
		{name: "unknown", status: "partial", wantCode: codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			collector, recorder := givenTracingCollector()

			_, span := collector.StartSpan(t.Context(), "op", nil)
			collector.FinishSpan(span, tc.status, nil)

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tc.wantCode, ended[0].Status().Code)
		})
	}
}

func Test_TracingCollector_NestsSpansThroughContext(t *testing.T) {
	// arrange
	collector, recorder := givenTracingCollector()

	// act
	ctx, parent := collector.StartSpan(t.Context(), "Command.Execute", nil)
	_, child := collector.StartSpan(ctx, "EventStore.Read", nil)
	collector.FinishSpan(child, "success", nil)
	collector.FinishSpan(parent, "success", nil)

	// assert
	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
	assert.Equal(t, ended[1].SpanContext().TraceID(), ended[0].SpanContext().TraceID())
}

func Test_TracingCollector_IgnoresForeignSpans(t *testing.T) {
	collector, recorder := givenTracingCollector()

	collector.FinishSpan(&testdoubles.SpySpanContext{}, "success", nil)

	assert.Empty(t, recorder.Ended())
}
