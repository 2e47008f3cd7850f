package sysreg

import "github.com/xvisor-project/corehv/internal/hypervisor/external"

// RefillVTLB services a translation fault for a guest whose MMU is disabled: look up the
// faulting VA in the guest's physical-address-space regions, select the largest supported page
// size that fits inside the region, compute AP (user-RW for real memory,
// supervisor-RW/user-none for virtual/device regions), and evict the round-robin victim slot.
//
// It returns the new entry and, if the victim slot held a valid mapping, the evicted entry so the
// caller (which holds the mmu package this one must not import) can unmap its previous backing
// from the vcpu's L1 before installing the new one.
func (c *CP15) RefillVTLB(guestID uint32, faultVA uint32, space external.AddressSpace, pageSizes []uint32) (entry VTLBEntry, evicted VTLBEntry, hadEvicted bool, ok bool) {
	region, found := space.GetRegion(guestID, uint64(faultVA))
	if !found {
		return VTLBEntry{}, VTLBEntry{}, false, false
	}

	size := largestFittingSize(faultVA, region, pageSizes)
	if size == 0 {
		return VTLBEntry{}, VTLBEntry{}, false, false
	}

	base := uint64(faultVA) &^ (uint64(size) - 1)

	entry = VTLBEntry{
		VA:   base,
		PA:   region.HostPA &^ (uint64(size) - 1),
		Size: size,
	}

	if region.IsVirtual {
		entry.AP = apSystemRWUserNone
		entry.NoExec = true
	} else {
		entry.AP = apSystemRWUserRW
	}

	evicted, hadEvicted = c.vtlb.Refill(entry)

	return entry, evicted, hadEvicted, true
}

// AP encodings duplicated from mmu.AP's values so this package need not import mmu for two
// constants; both encode the same short-descriptor AP field.
const (
	apSystemRWUserNone uint8 = 0b01
	apSystemRWUserRW   uint8 = 0b11
)

func largestFittingSize(va uint32, region external.Region, candidates []uint32) uint32 {
	var best uint32

	for _, size := range candidates {
		if size == 0 {
			continue
		}

		if size > best && fitsInRegion(va, size, region) {
			best = size
		}
	}

	return best
}

func fitsInRegion(va uint32, size uint32, region external.Region) bool {
	// region boundaries are expressed in the guest-physical space the region was looked up in;
	// the region itself spans [gpaBase, gpaBase+Size), but GetRegion's contract only guarantees
	// HostPA/Size/IsVirtual for the page containing gpa, so the conservative fit check is simply
	// that size does not exceed the region's total size.
	return uint64(size) <= region.Size
}

