package mmu_test

import (
	"errors"
	"testing"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
	"github.com/xvisor-project/corehv/internal/hypervisor/mmu"
)

func newCore(t *testing.T) *mmu.Core {
	t.Helper()

	c, err := mmu.New(8 * 1024 * 1024)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	return c
}

// TestMMURoundTrip: mapping a page and reading it back returns the same translation, for every
// supported page size; after unmap the lookup misses.
func TestMMURoundTrip(t *testing.T) {
	sizes := []uint32{mmu.SizeSmallPage, mmu.SizeLargePage, mmu.SizeSection, mmu.SizeSuperSection}

	for _, size := range sizes {
		c := newCore(t)

		l1, err := c.L1Alloc()
		if err != nil {
			t.Fatalf("size %#x: l1alloc: %v", size, err)
		}

		page := mmu.Page{VA: 0x40000000, PA: 0x80000000, Size: size, AP: mmu.APSystemRWUserRW, Imp: 1}

		if err := c.MapPage(l1, page); err != nil {
			t.Fatalf("size %#x: map_page: %v", size, err)
		}

		got, err := c.GetPage(l1, page.VA)
		if err != nil {
			t.Fatalf("size %#x: get_page: %v", size, err)
		}

		if got.PA != page.PA || got.Size != page.Size {
			t.Errorf("size %#x: got %s, want pa=%#x size=%#x", size, got, page.PA, page.Size)
		}

		if err := c.UnmapPage(l1, page); err != nil {
			t.Fatalf("size %#x: unmap_page: %v", size, err)
		}

		if _, err := c.GetPage(l1, page.VA); !errors.Is(err, hverrors.ErrNotAvail) {
			t.Errorf("size %#x: get_page after unmap: err=%v, want ErrNotAvail", size, err)
		}
	}
}

// TestMapPageImpTagMismatch: mapping over an existing page with a different Imp tag fails, and
// the existing translation is left untouched.
func TestMapPageImpTagMismatch(t *testing.T) {
	c := newCore(t)

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	page := mmu.Page{VA: 0x1000, PA: 0x2000, Size: mmu.SizeSmallPage, Imp: 1}
	if err := c.MapPage(l1, page); err != nil {
		t.Fatalf("map_page: %v", err)
	}

	other := page
	other.Imp = 2
	other.PA = 0x3000

	if err := c.MapPage(l1, other); !errors.Is(err, hverrors.ErrFail) {
		t.Fatalf("map_page imp mismatch: err=%v, want ErrFail", err)
	}

	got, err := c.GetPage(l1, page.VA)
	if err != nil {
		t.Fatalf("get_page: %v", err)
	}

	if got.PA != page.PA {
		t.Errorf("page clobbered despite imp mismatch: got %s", got)
	}
}

// TestUnmapTwiceFails: unmapping an already-empty slot fails rather than silently succeeding.
func TestUnmapTwiceFails(t *testing.T) {
	c := newCore(t)

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	page := mmu.Page{VA: 0x5000, PA: 0x6000, Size: mmu.SizeSmallPage, Imp: 1}
	if err := c.MapPage(l1, page); err != nil {
		t.Fatalf("map_page: %v", err)
	}

	if err := c.UnmapPage(l1, page); err != nil {
		t.Fatalf("unmap_page: %v", err)
	}

	if err := c.UnmapPage(l1, page); !errors.Is(err, hverrors.ErrFail) {
		t.Fatalf("second unmap_page: err=%v, want ErrFail", err)
	}
}

// TestL2DetachReturnsToPoolZeroed covers the law that emptying an L2's last translation detaches
// and zeroes it, so a subsequent map at the same VA starts from a fresh table.
func TestL2DetachReturnsToPoolZeroed(t *testing.T) {
	c := newCore(t)

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	page := mmu.Page{VA: 0x10000, PA: 0x20000, Size: mmu.SizeSmallPage, Imp: 1}

	if err := c.MapPage(l1, page); err != nil {
		t.Fatalf("map_page: %v", err)
	}

	if l1.L2TableCount() != 1 {
		t.Fatalf("l2 count = %d, want 1", l1.L2TableCount())
	}

	if err := c.UnmapPage(l1, page); err != nil {
		t.Fatalf("unmap_page: %v", err)
	}

	if l1.L2TableCount() != 0 {
		t.Errorf("l2 count after unmap = %d, want 0", l1.L2TableCount())
	}

	// Mapping a fresh page at the same 1MiB region reuses a zeroed L2 from the free list.
	page2 := mmu.Page{VA: 0x10000, PA: 0x30000, Size: mmu.SizeSmallPage, Imp: 7}
	if err := c.MapPage(l1, page2); err != nil {
		t.Fatalf("remap: %v", err)
	}

	got, err := c.GetPage(l1, page2.VA)
	if err != nil {
		t.Fatalf("get_page: %v", err)
	}

	if got.PA != page2.PA || got.Imp != page2.Imp {
		t.Errorf("remap got %s, want pa=%#x imp=%d", got, page2.PA, page2.Imp)
	}
}

// TestReservedPageMirroring: a page mapped via MapReservedPage is visible in both the default L1
// and an already-active per-guest L1, and disappears from both on UnmapReservedPage.
func TestReservedPageMirroring(t *testing.T) {
	c := newCore(t)

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	page := mmu.Page{VA: 0xffff0000, PA: 0x0, Size: mmu.SizeSection, Imp: mmu.ImpReserved}

	if err := c.MapReservedPage(page); err != nil {
		t.Fatalf("map_reserved_page: %v", err)
	}

	if _, err := c.GetPage(c.DefaultL1(), page.VA); err != nil {
		t.Errorf("default l1: get_page: %v", err)
	}

	if _, err := c.GetPage(l1, page.VA); err != nil {
		t.Errorf("active guest l1: get_page: %v", err)
	}

	if err := c.UnmapReservedPage(page); err != nil {
		t.Fatalf("unmap_reserved_page: %v", err)
	}

	if _, err := c.GetPage(c.DefaultL1(), page.VA); !errors.Is(err, hverrors.ErrNotAvail) {
		t.Errorf("default l1 after unmap: err=%v, want ErrNotAvail", err)
	}

	if _, err := c.GetPage(l1, page.VA); !errors.Is(err, hverrors.ErrNotAvail) {
		t.Errorf("active l1 after unmap: err=%v, want ErrNotAvail", err)
	}
}

// TestL1AllocClonesReservedMappings covers the scenario where a reserved page is mapped before a
// new guest L1 is allocated: L1Alloc's deep-copy of the default L1 must carry it over.
func TestL1AllocClonesReservedMappings(t *testing.T) {
	c := newCore(t)

	page := mmu.Page{VA: 0xffff1000, PA: 0x1000, Size: mmu.SizeSmallPage, Imp: mmu.ImpReserved}

	if err := c.MapReservedPage(page); err != nil {
		t.Fatalf("map_reserved_page: %v", err)
	}

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	got, err := c.GetPage(l1, page.VA)
	if err != nil {
		t.Fatalf("get_page on freshly allocated l1: %v", err)
	}

	if got.PA != page.PA {
		t.Errorf("cloned reserved page = %s, want pa=%#x", got, page.PA)
	}
}

// TestMapReservedPageRejectsWrongImp: MapReservedPage/UnmapReservedPage require
// page.Imp == mmu.ImpReserved and touch no table otherwise.
func TestMapReservedPageRejectsWrongImp(t *testing.T) {
	c := newCore(t)

	page := mmu.Page{VA: 0xffff2000, PA: 0x2000, Size: mmu.SizeSmallPage, Imp: 0}

	if err := c.MapReservedPage(page); !errors.Is(err, hverrors.ErrFail) {
		t.Fatalf("map_reserved_page with imp=0: err=%v, want ErrFail", err)
	}

	if _, err := c.GetPage(c.DefaultL1(), page.VA); !errors.Is(err, hverrors.ErrNotAvail) {
		t.Errorf("default l1 after rejected map: err=%v, want ErrNotAvail", err)
	}

	page.Imp = mmu.ImpReserved
	if err := c.MapReservedPage(page); err != nil {
		t.Fatalf("map_reserved_page with imp=ImpReserved: %v", err)
	}

	page.Imp = 0
	if err := c.UnmapReservedPage(page); !errors.Is(err, hverrors.ErrFail) {
		t.Fatalf("unmap_reserved_page with imp=0: err=%v, want ErrFail", err)
	}
}

// TestMapPageOverwritesOverlappingSmallPages: installing a 1 MiB section over an L1 slot that
// holds an attached L2 with several small-page entries must unmap every one of them across the
// full target range, not just the single entry at page.VA.
func TestMapPageOverwritesOverlappingSmallPages(t *testing.T) {
	c := newCore(t)

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	base := uint64(0x40000000)

	for _, off := range []uint64{0, mmu.SizeSmallPage, 2 * mmu.SizeSmallPage} {
		small := mmu.Page{VA: base + off, PA: base + off, Size: mmu.SizeSmallPage, Imp: 1}
		if err := c.MapPage(l1, small); err != nil {
			t.Fatalf("map small page at %#x: %v", base+off, err)
		}
	}

	section := mmu.Page{VA: base, PA: base, Size: mmu.SizeSection, AP: mmu.APSystemRWUserRW, Imp: 1}
	if err := c.MapPage(l1, section); err != nil {
		t.Fatalf("map_page section over small pages: %v", err)
	}

	got, err := c.GetPage(l1, base)
	if err != nil {
		t.Fatalf("get_page after section install: %v", err)
	}

	if got.Size != mmu.SizeSection {
		t.Errorf("get_page after section install = %s, want size %#x", got, uint32(mmu.SizeSection))
	}
}

func TestChangeTTBRFlushesTLB(t *testing.T) {
	c := newCore(t)

	l1, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc: %v", err)
	}

	flushed := false
	c.ChangeTTBR(l1, func() { flushed = true })

	if !flushed {
		t.Error("ChangeTTBR did not invoke the flush callback")
	}

	if c.CurrentL1() != l1 {
		t.Error("ChangeTTBR did not record l1 as current")
	}
}

// TestUnmapPageInvalidatesCurrentL1TLBLine: UnmapPage invalidates the TLB line only when the
// affected L1 is the one ChangeTTBR installed as current.
func TestUnmapPageInvalidatesCurrentL1TLBLine(t *testing.T) {
	c := newCore(t)

	current, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc(current): %v", err)
	}

	other, err := c.L1Alloc()
	if err != nil {
		t.Fatalf("l1alloc(other): %v", err)
	}

	var invalidated []uint64

	c.SetTLBOps(mmu.TLBOps{
		InvalidateLine: func(va uint64, size uint32) { invalidated = append(invalidated, va) },
	})

	c.ChangeTTBR(current, nil)

	page := mmu.Page{VA: 0x50000000, PA: 0x50000000, Size: mmu.SizeSmallPage, Imp: 1}

	if err := c.MapPage(current, page); err != nil {
		t.Fatalf("map_page(current): %v", err)
	}

	if err := c.MapPage(other, page); err != nil {
		t.Fatalf("map_page(other): %v", err)
	}

	if err := c.UnmapPage(other, page); err != nil {
		t.Fatalf("unmap_page(other): %v", err)
	}

	if len(invalidated) != 0 {
		t.Errorf("unmap on non-current l1 invalidated %v, want none", invalidated)
	}

	if err := c.UnmapPage(current, page); err != nil {
		t.Fatalf("unmap_page(current): %v", err)
	}

	if len(invalidated) != 1 || invalidated[0] != page.VA {
		t.Errorf("unmap on current l1 invalidated %v, want [%#x]", invalidated, page.VA)
	}
}
