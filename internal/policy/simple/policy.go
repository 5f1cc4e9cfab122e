// Package simple contains a permissive governor used when inbound rate limiting is disabled.
package simple

import (
	"context"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// AllowAll admits every request.
type AllowAll struct {
	// Capacity is reported as the remaining allowance on every decision.
	Capacity int
}

// New creates an AllowAll governor reporting capacity as remaining.
func New(capacity int) *AllowAll {
	return &AllowAll{Capacity: capacity}
}

// Check always allows.
func (a AllowAll) Check(_ context.Context, _ string) (allotment.Decision, error) {
	return allotment.Decision{Allowed: true, Remaining: a.Capacity}, nil
}
