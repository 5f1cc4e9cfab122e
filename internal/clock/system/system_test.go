package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowIsUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockTruncatesToMillisecond(t *testing.T) {
	t.Parallel()

	got := New().Now()
	require.Zero(t, got.Nanosecond()%int(time.Millisecond))
}

func TestNilClockFallsBackToNow(t *testing.T) {
	t.Parallel()

	var clk *Clock
	require.False(t, clk.Now().IsZero())
}
