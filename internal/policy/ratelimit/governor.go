// Package ratelimit admits inbound checks per client and paces outbound registrar traffic.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/clock/system"
	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
)

// Default governor settings.
const (
	DefaultWindow        = 60 * time.Second
	DefaultMaxRequests   = 10
	DefaultSweepInterval = 5 * time.Minute
)

// GovernorConfig controls the sliding-window governor.
type GovernorConfig struct {
	Window        time.Duration
	MaxRequests   int
	SweepInterval time.Duration
}

func (c GovernorConfig) withDefaults() GovernorConfig {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Governor is an in-process sliding-window admission controller keyed by client identifier.
type Governor struct {
	cfg    GovernorConfig
	clock  allotment.Clock
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	// retired is set once Sweep has removed the window from the map.
	retired bool
}

// NewGovernor builds a Governor. A nil clock uses the system clock.
func NewGovernor(cfg GovernorConfig, clock allotment.Clock, logger *zap.Logger) *Governor {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger,
		windows: make(map[string]*window),
	}
}

// Check admits or denies one request for identifier and records it when admitted.
func (g *Governor) Check(_ context.Context, identifier string) (allotment.Decision, error) {
	w := g.lockWindow(identifier)
	defer w.mu.Unlock()
	now := g.clock.Now()

	w.prune(now, g.cfg.Window)
	if len(w.timestamps) >= g.cfg.MaxRequests {
		metrics.ObserveRateLimitDenied()
		return allotment.Decision{
			Allowed:   false,
			Remaining: 0,
			ResetIn:   w.timestamps[0].Add(g.cfg.Window).Sub(now),
		}, nil
	}
	w.timestamps = append(w.timestamps, now)
	return allotment.Decision{
		Allowed:   true,
		Remaining: g.cfg.MaxRequests - len(w.timestamps),
	}, nil
}

// Run sweeps idle windows until ctx is canceled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := g.Sweep()
			if removed > 0 {
				g.logger.Debug("rate limit windows swept", zap.Int("removed", removed))
			}
		}
	}
}

// Sweep drops windows with no timestamps left inside the window and returns how many were removed.
func (g *Governor) Sweep() int {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, w := range g.windows {
		w.mu.Lock()
		w.prune(now, g.cfg.Window)
		if len(w.timestamps) == 0 {
			w.retired = true
			delete(g.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	metrics.SetRateLimitWindows(len(g.windows))
	return removed
}

// Len reports the number of tracked identifiers.
func (g *Governor) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}

// lockWindow returns the live window for identifier with its mutex held.
func (g *Governor) lockWindow(identifier string) *window {
	for {
		g.mu.Lock()
		w, ok := g.windows[identifier]
		if !ok {
			w = &window{}
			g.windows[identifier] = w
			metrics.SetRateLimitWindows(len(g.windows))
		}
		g.mu.Unlock()

		w.mu.Lock()
		if !w.retired {
			return w
		}
		w.mu.Unlock()
	}
}

// prune keeps only timestamps strictly inside the window ending at now.
func (w *window) prune(now time.Time, size time.Duration) {
	cutoff := now.Add(-size)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
