package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "allotmentd-test", Version: "0.0.1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	fields := otel.GetTextMapPropagator().Fields()
	require.Contains(t, fields, "traceparent")
}
