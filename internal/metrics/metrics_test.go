package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if allotmentChecksTotal == nil || upstreamDurationSeconds == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		rateLimitDeniedTotal == nil || rateLimitWindows == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCheck(t *testing.T) {
	ObserveCheck("bigshare", "allotted")
	ObserveCheck("bigshare", "allotted")
	ObserveCheck("", "validation_error")

	if val := testutil.ToFloat64(allotmentChecksTotal.WithLabelValues("bigshare", "allotted")); val != 2 {
		t.Errorf("expected 2 allotted checks for bigshare, got %f", val)
	}
	if val := testutil.ToFloat64(allotmentChecksTotal.WithLabelValues("none", "validation_error")); val != 1 {
		t.Errorf("expected empty registrar to be labeled none, got %f", val)
	}
}

func TestRateLimitCollectors(t *testing.T) {
	Init()
	before := testutil.ToFloat64(rateLimitDeniedTotal)
	ObserveRateLimitDenied()
	if val := testutil.ToFloat64(rateLimitDeniedTotal); val != before+1 {
		t.Errorf("expected denied counter to increase by 1, got %f -> %f", before, val)
	}

	SetRateLimitWindows(7)
	if val := testutil.ToFloat64(rateLimitWindows); val != 7 {
		t.Errorf("expected windows gauge 7, got %f", val)
	}
}

func TestObserveUpstream(t *testing.T) {
	ObserveUpstream("kfintech", "parsed", 250*time.Millisecond)
	ObserveUpstreamDelay("kfintech", 100*time.Millisecond)

	if n := testutil.CollectAndCount(upstreamDurationSeconds); n < 1 {
		t.Errorf("expected upstream histogram to have samples, got %d", n)
	}
	if n := testutil.CollectAndCount(upstreamRateLimitDelaySeconds); n < 1 {
		t.Errorf("expected delay histogram to have samples, got %d", n)
	}
}
