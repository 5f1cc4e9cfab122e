// Package memory provides in-memory record stores for development and testing.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// Catalog serves IPO and registrar records seeded from configuration.
type Catalog struct {
	mu         sync.RWMutex
	ipos       map[string]allotment.IPO
	registrars map[string]allotment.RegistrarProfile
}

// NewCatalog constructs a Catalog. Later entries win on duplicate slugs.
func NewCatalog(registrars []allotment.RegistrarProfile, ipos []allotment.IPO) *Catalog {
	c := &Catalog{
		ipos:       make(map[string]allotment.IPO, len(ipos)),
		registrars: make(map[string]allotment.RegistrarProfile, len(registrars)),
	}
	for _, r := range registrars {
		c.registrars[r.Slug] = r
	}
	for _, ipo := range ipos {
		c.ipos[ipo.Slug] = ipo
	}
	return c
}

// PutIPO inserts or replaces an IPO.
func (c *Catalog) PutIPO(ipo allotment.IPO) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ipos[ipo.Slug] = ipo
}

// PutRegistrar inserts or replaces a registrar profile.
func (c *Catalog) PutRegistrar(r allotment.RegistrarProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrars[r.Slug] = r
}

// GetIPO fetches an IPO by slug.
func (c *Catalog) GetIPO(_ context.Context, slug string) (allotment.IPO, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ipo, ok := c.ipos[slug]
	if !ok {
		return allotment.IPO{}, allotment.ErrNotFound
	}
	return ipo, nil
}

// ListLiveIPOs returns IPOs whose allotment is live, latest allotment date first.
func (c *Catalog) ListLiveIPOs(_ context.Context) ([]allotment.IPO, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]allotment.IPO, 0, len(c.ipos))
	for _, ipo := range c.ipos {
		if ipo.IsAllotmentLive {
			out = append(out, ipo)
		}
	}
	slices.SortFunc(out, func(a, b allotment.IPO) int {
		switch {
		case a.AllotmentDate == nil && b.AllotmentDate == nil:
		case a.AllotmentDate == nil:
			return 1
		case b.AllotmentDate == nil:
			return -1
		default:
			if n := b.AllotmentDate.Compare(*a.AllotmentDate); n != 0 {
				return n
			}
		}
		return cmp.Compare(a.Slug, b.Slug)
	})
	return out, nil
}

// GetRegistrar fetches a registrar profile by slug.
func (c *Catalog) GetRegistrar(_ context.Context, slug string) (allotment.RegistrarProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.registrars[slug]
	if !ok {
		return allotment.RegistrarProfile{}, allotment.ErrNotFound
	}
	return r, nil
}

// ListRegistrars returns every registrar ordered by name.
func (c *Catalog) ListRegistrars(_ context.Context) ([]allotment.RegistrarProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]allotment.RegistrarProfile, 0, len(c.registrars))
	for _, r := range c.registrars {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b allotment.RegistrarProfile) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Slug, b.Slug))
	})
	return out, nil
}
