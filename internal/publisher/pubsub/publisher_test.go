package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	event := allotment.CheckEvent{
		CheckID:   "0190f1c2-0000-7000-8000-000000000001",
		IPOSlug:   "acme-ltd",
		Registrar: "kfintech",
		Status:    "allotted",
		CheckedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	msg, err := buildMessage(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "kfintech", msg.Attributes[AttrRegistrar])
	require.Equal(t, "allotted", msg.Attributes[AttrStatus])
	require.Equal(t, "acme-ltd", msg.Attributes[AttrIPO])

	var decoded allotment.CheckEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event.CheckID, decoded.CheckID)
	require.True(t, event.CheckedAt.Equal(decoded.CheckedAt))
	require.NotContains(t, string(msg.Data), "pan")
}

func TestCarrierInjectsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	carrier := &pubsubCarrier{attrs: map[string]string{}}
	propagation.TraceContext{}.Inject(ctx, carrier)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	require.Contains(t, carrier.Keys(), "traceparent")
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), allotment.CheckEvent{})
	require.EqualError(t, err, "pubsub publisher is not configured")
}
