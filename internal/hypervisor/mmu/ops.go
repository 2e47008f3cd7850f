package mmu

import (
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// GetPage walks l1 for va and returns the leaf translation, if any. Section, supersection,
// large-page and small-page leaves are all recognised; the caller distinguishes them by
// Page.Size.
func (c *Core) GetPage(l1 *L1Table, va uint64) (Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.getPageLocked(l1, va)
}

// getPageLocked is GetPage's body with c.mu already held (read or write), for callers that walk
// or mutate a table across several entries under one lock acquisition (MapPage, UnmapPage).
func (c *Core) getPageLocked(l1 *L1Table, va uint64) (Page, error) {
	idx := l1Index(va)
	e := l1.entries[idx]

	switch e.typ {
	case EntrySection, EntrySuperSection:
		return e.page, nil
	case EntryTable:
		l2 := findAttached(l1, e.child)
		if l2 == nil {
			return Page{}, fmt.Errorf("mmu: get_page: %w: dangling l2 reference", hverrors.ErrFail)
		}

		le := l2.entries[l2Index(va)]
		if le.typ == EntryFault {
			return Page{}, fmt.Errorf("mmu: get_page: %w", hverrors.ErrNotAvail)
		}

		return le.page, nil
	default:
		return Page{}, fmt.Errorf("mmu: get_page: %w", hverrors.ErrNotAvail)
	}
}

// topImp returns the implementation tag of whatever currently occupies l1's top-level slot for
// idx: a section/supersection's own Imp, or the Imp an attached L2 was given on attach. Zero
// means "untagged" and never triggers the imp-mismatch rejection below.
func topImp(l1 *L1Table, idx uint32) uint32 {
	e := l1.entries[idx]

	switch e.typ {
	case EntrySection, EntrySuperSection:
		return e.page.Imp
	case EntryTable:
		if l2 := findAttached(l1, e.child); l2 != nil {
			return l2.imp
		}
	}

	return 0
}

// subClamp returns a-b, floored at zero, for walking a remaining-span counter down by strides that
// may overshoot the last one.
func subClamp(a, b uint64) uint64 {
	if a < b {
		return 0
	}

	return a - b
}

// MapPage installs page into l1. A section/supersection goes directly into the L1; a large/small
// page requires (and, if absent, allocates and attaches) an L2 covering the enclosing 1 MiB
// region.
//
// If the L1 slot at page.VA is not already FAULT, every existing mapping overlapping
// [page.VA, page.VA+page.Size) is unmapped first, walked at the granularity implied by that
// slot's current top-level descriptor (4 KiB under an attached L2, 1 MiB otherwise). The Imp tag
// of that one initial top-level slot gates the whole operation: an existing non-zero Imp that
// differs from page.Imp fails the whole map before anything is unmapped.
func (c *Core) MapPage(l1 *L1Table, page Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := l1Index(page.VA)

	if l1.entries[idx].typ != EntryFault {
		if existing := topImp(l1, idx); existing != 0 && existing != page.Imp {
			return fmt.Errorf("mmu: map_page: va %#x: %w: imp tag mismatch", page.VA, hverrors.ErrFail)
		}

		minSize := uint32(SizeSection)
		if l1.entries[idx].typ == EntryTable {
			minSize = SizeSmallPage
		}

		pgva := alignedBase(page.VA, minSize)
		remaining := uint64(page.Size)

		for remaining > 0 {
			upg, err := c.getPageLocked(l1, pgva)
			if err != nil {
				pgva += uint64(minSize)
				remaining = subClamp(remaining, uint64(minSize))

				continue
			}

			if err := c.unmapPageLocked(l1, upg); err != nil {
				return fmt.Errorf("mmu: map_page: unmap existing at %#x: %w", pgva, err)
			}

			pgva += uint64(upg.Size)
			remaining = subClamp(remaining, uint64(upg.Size))
		}
	}

	switch page.Size {
	case SizeSuperSection:
		return c.installSuperSection(l1, page)
	case SizeSection:
		return c.installSection(l1, page)
	case SizeLargePage, SizeSmallPage:
		return c.installL2Page(l1, page)
	default:
		return fmt.Errorf("mmu: map_page: %w: unsupported page size %d", hverrors.ErrInvalid, page.Size)
	}
}

func (c *Core) installSection(l1 *L1Table, page Page) error {
	idx := l1Index(page.VA)
	if l1.entries[idx].typ != EntryFault {
		return fmt.Errorf("mmu: map_page: slot %d occupied: %w", idx, hverrors.ErrFail)
	}

	l1.entries[idx] = l1Entry{typ: EntrySection, page: page}
	l1.tteCnt++

	return nil
}

func (c *Core) installSuperSection(l1 *L1Table, page Page) error {
	base := l1Index(alignedBase(page.VA, SizeSuperSection))

	for i := uint32(0); i < 16; i++ {
		if l1.entries[base+i].typ != EntryFault {
			return fmt.Errorf("mmu: map_page: slot %d occupied: %w", base+i, hverrors.ErrFail)
		}
	}

	for i := uint32(0); i < 16; i++ {
		l1.entries[base+i] = l1Entry{typ: EntrySuperSection, page: page}
		l1.tteCnt++
	}

	return nil
}

func (c *Core) installL2Page(l1 *L1Table, page Page) error {
	idx := l1Index(page.VA)

	var l2 *L2Table

	switch l1.entries[idx].typ {
	case EntryFault:
		var err error

		l2, err = c.allocL2Locked()
		if err != nil {
			return fmt.Errorf("mmu: map_page: alloc l2: %w", err)
		}

		if err := c.attachL2Locked(l1, l2, page.Imp, page.Domain, page.VA); err != nil {
			return fmt.Errorf("mmu: map_page: attach l2: %w", err)
		}
	case EntryTable:
		l2 = findAttached(l1, l1.entries[idx].child)
		if l2 == nil {
			return fmt.Errorf("mmu: map_page: %w: dangling l2 reference", hverrors.ErrFail)
		}
	default:
		return fmt.Errorf("mmu: map_page: slot %d holds a section: %w", idx, hverrors.ErrFail)
	}

	entrySize := uint32(1)
	if page.Size == SizeLargePage {
		entrySize = 16
	}

	base := l2Index(alignedBase(page.VA, page.Size))

	for i := uint32(0); i < entrySize; i++ {
		if l2.entries[base+i].typ != EntryFault {
			return fmt.Errorf("mmu: map_page: l2 slot %d occupied: %w", base+i, hverrors.ErrFail)
		}
	}

	typ := EntrySmallPage
	if page.Size == SizeLargePage {
		typ = EntryLargePage
	}

	for i := uint32(0); i < entrySize; i++ {
		l2.entries[base+i] = l2Entry{typ: typ, page: page}
		l2.tteCount++
	}

	return nil
}

// UnmapPage clears the slot(s) covering page.VA at page.Size, verifying that the physical base
// and Imp tag match what is installed there. Unmapping a page that is not present fails; it is
// never reported as success. When the unmap empties an L2, the L2 is detached and put on the
// free list. If l1 is the table currently loaded via ChangeTTBR, the configured TLB line is
// invalidated.
func (c *Core) UnmapPage(l1 *L1Table, page Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unmapPageLocked(l1, page)
}

// unmapPageLocked is UnmapPage's body with c.mu already held, for MapPage's overlap-clearing loop.
func (c *Core) unmapPageLocked(l1 *L1Table, page Page) error {
	if err := c.unmapPageEntriesLocked(l1, page); err != nil {
		return err
	}

	if l1 == c.currentL1 && c.tlbOps.InvalidateLine != nil {
		c.tlbOps.InvalidateLine(page.VA, page.Size)
	}

	return nil
}

func (c *Core) unmapPageEntriesLocked(l1 *L1Table, page Page) error {
	idx := l1Index(page.VA)
	e := l1.entries[idx]

	switch e.typ {
	case EntrySection, EntrySuperSection:
		if e.page.PA != page.PA || e.page.Imp != page.Imp {
			return fmt.Errorf("mmu: unmap_page: %w: pa/imp mismatch", hverrors.ErrFail)
		}

		count := uint32(1)
		base := idx

		if e.typ == EntrySuperSection {
			count = 16
			base = l1Index(alignedBase(page.VA, SizeSuperSection))
		}

		for i := uint32(0); i < count; i++ {
			l1.entries[base+i] = l1Entry{}
			l1.tteCnt--
		}

		return nil
	case EntryTable:
		l2 := findAttached(l1, e.child)
		if l2 == nil {
			return fmt.Errorf("mmu: unmap_page: %w: dangling l2 reference", hverrors.ErrFail)
		}

		base := l2Index(alignedBase(page.VA, page.Size))

		le := l2.entries[base]
		if le.typ == EntryFault {
			return fmt.Errorf("mmu: unmap_page: not mapped: %w", hverrors.ErrFail)
		}

		if le.page.PA != page.PA || le.page.Imp != page.Imp {
			return fmt.Errorf("mmu: unmap_page: %w: pa/imp mismatch", hverrors.ErrFail)
		}

		count := uint32(1)
		if le.typ == EntryLargePage {
			count = 16
		}

		for i := uint32(0); i < count; i++ {
			l2.entries[base+i] = l2Entry{}
			l2.tteCount--
		}

		if l2.tteCount == 0 {
			// Detach and hand the table to the free list for reuse, rather than returning its
			// blocks to the pool: the pool bitmap keeps the handle marked used the whole time an
			// L2 sits on the free list. L2Free is the path that actually releases blocks, for a
			// guest torn down for good.
			c.detachL2Locked(l2)
			c.freeL2 = append(c.freeL2, zeroedDetachedL2(l2))
		}

		return nil
	default:
		return fmt.Errorf("mmu: unmap_page: not mapped: %w", hverrors.ErrFail)
	}
}

func findAttached(l1 *L1Table, ref *l2TableRef) *L2Table {
	if ref == nil {
		return nil
	}

	for _, l2 := range l1.l2tbls {
		if l2.handle == ref.handle {
			return l2
		}
	}

	return nil
}

// allocL2Locked, attachL2Locked and detachL2Locked are the lock-already-held bodies of
// L2Alloc/L2Attach/L2Detach, shared with MapPage/UnmapPage which hold c.mu for the whole
// operation.
func (c *Core) allocL2Locked() (*L2Table, error) {
	if n := len(c.freeL2); n > 0 {
		l2 := c.freeL2[n-1]
		c.freeL2 = c.freeL2[:n-1]
		*l2 = L2Table{handle: l2.handle, parentSlot: -1}

		return l2, nil
	}

	h, _, err := c.pool.Alloc(L2TableSize)
	if err != nil {
		return nil, fmt.Errorf("mmu: l2tbl_alloc: %w", err)
	}

	return &L2Table{handle: h, parentSlot: -1}, nil
}

func (c *Core) attachL2Locked(l1 *L1Table, l2 *L2Table, imp uint32, dom uint8, va uint64) error {
	idx := l1Index(va)

	if l1.entries[idx].typ != EntryFault {
		return fmt.Errorf("mmu: l2tbl_attach: slot %d not FAULT: %w", idx, hverrors.ErrFail)
	}

	l2.parent = l1
	l2.parentSlot = int(idx)
	l2.imp = imp
	l2.domain = dom

	l1.entries[idx] = l1Entry{typ: EntryTable, child: &l2TableRef{handle: l2.handle}}
	l1.l2tbls = append(l1.l2tbls, l2)
	l1.l2Cnt++

	return nil
}

func (c *Core) detachL2Locked(l2 *L2Table) {
	if l2.parent != nil {
		l1 := l2.parent
		l1.entries[l2.parentSlot] = l1Entry{}
		l1.l2Cnt--

		for i, child := range l1.l2tbls {
			if child == l2 {
				l1.l2tbls = append(l1.l2tbls[:i], l1.l2tbls[i+1:]...)
				break
			}
		}
	}

	l2.parent = nil
	l2.parentSlot = -1
}

func zeroedDetachedL2(l2 *L2Table) *L2Table {
	l2.entries = [l2NumEntries]l2Entry{}
	l2.tteCount = 0
	l2.domain = 0
	l2.imp = 0

	return l2
}
