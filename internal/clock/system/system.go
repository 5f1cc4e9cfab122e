// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

var _ allotment.Clock = (*Clock)(nil)

// Clock reads time.Now, truncated to the configured precision.
type Clock struct {
	precision time.Duration
}

// New returns a clock with millisecond precision. Check timestamps are
// persisted and published, and Postgres keeps microseconds at most.
func New() *Clock {
	return &Clock{precision: time.Millisecond}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c == nil || c.precision <= 0 {
		return now
	}
	return now.Truncate(c.precision)
}
