package iommu_test

import (
	"testing"

	"github.com/xvisor-project/corehv/internal/hypervisor/external"
	"github.com/xvisor-project/corehv/internal/hypervisor/iommu"
)

func newDomain(t *testing.T) *iommu.Domain {
	t.Helper()

	cfg := iommu.Config{
		IAS:       32,
		OAS:       32,
		PageSizes: []uint32{iommu.SizePage, iommu.SizeContigPage, iommu.SizeSection, iommu.SizeContigSection},
		Quirks:    iommu.QuirkTLBIOnMap,
	}

	d, _, err := iommu.Alloc(cfg, "test-device", external.TLBOps{})
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	return d
}

// TestSelfTest drives the allocator's deterministic six-step property check, via the same entry
// point xvisorctl's iommu-selftest subcommand calls.
func TestSelfTest(t *testing.T) {
	report, err := iommu.SelfTest()
	if err != nil {
		t.Fatalf("selftest: %v", err)
	}

	if len(report.Steps) != 6 {
		t.Errorf("selftest steps = %d, want 6: %v", len(report.Steps), report.Steps)
	}
}

// TestMapNoopWithoutReadWrite: a map whose prot carries neither read nor write succeeds without
// installing anything.
func TestMapNoopWithoutReadWrite(t *testing.T) {
	d := newDomain(t)

	if err := d.Map(0x1000, 0x1000, iommu.SizePage, iommu.ProtNoExec); err != nil {
		t.Fatalf("map without r/w: %v", err)
	}

	if got := d.IOVAToPhys(0x1000); got != 0 {
		t.Errorf("lookup after no-op map = %#x, want 0", got)
	}
}

// TestMapReadOnly: read-only is a valid mapping, not a no-op.
func TestMapReadOnly(t *testing.T) {
	d := newDomain(t)

	if err := d.Map(0x2000, 0x2000, iommu.SizePage, iommu.ProtRead); err != nil {
		t.Fatalf("map read-only: %v", err)
	}

	if got := d.IOVAToPhys(0x2000); got != 0x2000 {
		t.Errorf("lookup after read-only map = %#x, want 0x2000", got)
	}
}

// TestMapRejectsSizeOutsideBitmap: a size the domain was not configured with is refused even if
// the table format could express it.
func TestMapRejectsSizeOutsideBitmap(t *testing.T) {
	d, _, err := iommu.Alloc(iommu.Config{
		IAS: 32, OAS: 32,
		PageSizes: []uint32{iommu.SizePage},
	}, nil, external.TLBOps{})
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if err := d.Map(0, 0, iommu.SizeSection, iommu.ProtRead|iommu.ProtWrite); err == nil {
		t.Fatal("map of unconfigured size: want error, got nil")
	}
}

// TestSectionSplitOnPartialUnmap: map a 16 MiB block, punch a 4 KiB hole one page in, and re-map
// the hole read-only. Lookups around the hole keep their identity translation throughout, and
// the hole itself reads 0 while unmapped.
func TestSectionSplitOnPartialUnmap(t *testing.T) {
	d := newDomain(t)

	const base = uint32(0x01000000)

	if err := d.Map(base, base, iommu.SizeContigSection, iommu.ProtRead|iommu.ProtWrite|iommu.ProtNoExec|iommu.ProtCache); err != nil {
		t.Fatalf("map 16M: %v", err)
	}

	if got := d.IOVAToPhys(base + 42); got != base+42 {
		t.Fatalf("lookup(base+42) = %#x, want %#x", got, base+42)
	}

	n, err := d.Unmap(base+iommu.SizePage, iommu.SizePage)
	if err != nil {
		t.Fatalf("partial unmap: %v", err)
	}

	if n != iommu.SizePage {
		t.Fatalf("partial unmap bytes = %d, want %d", n, iommu.SizePage)
	}

	if got := d.IOVAToPhys(base + iommu.SizePage + 10); got != 0 {
		t.Errorf("lookup inside hole = %#x, want 0", got)
	}

	if got := d.IOVAToPhys(base + 42); got != base+42 {
		t.Errorf("lookup(base+42) after split = %#x, want %#x", got, base+42)
	}

	if err := d.Map(base+iommu.SizePage, base+iommu.SizePage, iommu.SizePage, iommu.ProtRead); err != nil {
		t.Fatalf("remap hole read-only: %v", err)
	}

	if got := d.IOVAToPhys(base + iommu.SizePage + 42); got != base+iommu.SizePage+42 {
		t.Errorf("lookup after remap = %#x, want %#x", got, base+iommu.SizePage+42)
	}
}

// TestTLBGatherOnMapAndUnmap: add_flush/sync are called on every unmap, and (with TLBI-on-map)
// on every map.
func TestTLBGatherOnMapAndUnmap(t *testing.T) {
	var flushes []uint64
	synced := 0

	tlb := external.TLBOps{
		AddFlush: func(iova, size uint64, leaf bool) { flushes = append(flushes, iova) },
		Sync:     func() { synced++ },
	}

	d, _, err := iommu.Alloc(iommu.Config{
		IAS: 32, OAS: 32,
		PageSizes: []uint32{iommu.SizePage},
		Quirks:    iommu.QuirkTLBIOnMap,
	}, nil, tlb)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if err := d.Map(0x5000, 0x5000, iommu.SizePage, iommu.ProtRead|iommu.ProtWrite); err != nil {
		t.Fatalf("map: %v", err)
	}

	if len(flushes) != 1 || synced != 1 {
		t.Errorf("after map: flushes=%d synced=%d, want 1/1", len(flushes), synced)
	}

	if _, err := d.Unmap(0x5000, iommu.SizePage); err != nil {
		t.Fatalf("unmap: %v", err)
	}

	if len(flushes) != 2 || synced != 2 {
		t.Errorf("after unmap: flushes=%d synced=%d, want 2/2", len(flushes), synced)
	}
}

func TestAllocRejectsOversizeAddressSpace(t *testing.T) {
	_, _, err := iommu.Alloc(iommu.Config{IAS: 40, OAS: 32}, nil, external.TLBOps{})
	if err == nil {
		t.Fatal("alloc with ias=40: want error, got nil")
	}
}
