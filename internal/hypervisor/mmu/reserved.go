package mmu

import (
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// MapReservedPage installs page (forced into DomainReserved) into the default L1 and mirrors the
// same installation onto every active per-guest L1, so reserved mappings -- the hypervisor's own
// code/data and the vector page -- stay consistent across every address space a guest might run
// under. page.Imp must already be ImpReserved; any other tag is rejected before a single table is
// touched.
func (c *Core) MapReservedPage(page Page) error {
	if page.Imp != ImpReserved {
		return fmt.Errorf("mmu: map_reserved_page: %w: imp must be ImpReserved", hverrors.ErrFail)
	}

	page.Domain = DomainReserved

	if err := c.MapPage(c.defaultL1, page); err != nil {
		return fmt.Errorf("mmu: map_reserved_page: default l1: %w", err)
	}

	for _, l1 := range c.ActiveL1s() {
		if err := c.MapPage(l1, page); err != nil {
			return fmt.Errorf("mmu: map_reserved_page: active l1: %w", err)
		}
	}

	c.mu.Lock()
	c.reserved = append(c.reserved, page)
	c.mu.Unlock()

	return nil
}

// UnmapReservedPage is the mirror image of MapReservedPage, removing the mapping from the
// default L1 and every active L1. Like MapReservedPage, it rejects any page.Imp other than
// ImpReserved.
func (c *Core) UnmapReservedPage(page Page) error {
	if page.Imp != ImpReserved {
		return fmt.Errorf("mmu: unmap_reserved_page: %w: imp must be ImpReserved", hverrors.ErrFail)
	}

	page.Domain = DomainReserved

	if err := c.UnmapPage(c.defaultL1, page); err != nil {
		return fmt.Errorf("mmu: unmap_reserved_page: default l1: %w", err)
	}

	for _, l1 := range c.ActiveL1s() {
		if err := c.UnmapPage(l1, page); err != nil {
			return fmt.Errorf("mmu: unmap_reserved_page: active l1: %w", err)
		}
	}

	c.mu.Lock()
	for i, p := range c.reserved {
		if p.VA == page.VA && p.Size == page.Size {
			c.reserved = append(c.reserved[:i], c.reserved[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return nil
}

// ReservedPages returns a snapshot of the pages currently mirrored across every L1, for
// diagnostics.
func (c *Core) ReservedPages() []Page {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Page, len(c.reserved))
	copy(out, c.reserved)

	return out
}
