package simple

import (
	"context"
	"testing"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

var _ allotment.Governor = AllowAll{}

func TestAllowAllAdmitsEverything(t *testing.T) {
	t.Parallel()

	g := New(10)
	for i := 0; i < 50; i++ {
		decision, err := g.Check(context.Background(), "203.0.113.9")
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if !decision.Allowed || decision.Remaining != 10 {
			t.Fatalf("unexpected decision %+v", decision)
		}
	}
}
