package iommu

// IOVAToPhys walks to a leaf and returns (leaf_pa & ~mask) | (iova & mask), where mask accounts
// for contiguous-section/page coalescing; returns 0 if nothing is mapped at iova.
func (d *Domain) IOVAToPhys(iova uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.l1[l1Index(iova)]

	switch e.typ {
	case entrySection:
		return leafPA(e.pa, iova, SizeSection)
	case entryContigSection:
		return leafPA(e.pa, iova, SizeContigSection)
	case entryTable:
		le := e.l2.entries[l2Index(iova)]

		switch le.typ {
		case entryPage:
			return leafPA(le.pa, iova, SizePage)
		case entryContigPage:
			return leafPA(le.pa, iova, SizeContigPage)
		default:
			return 0
		}
	default:
		return 0
	}
}

func leafPA(pa uint32, iova uint32, size uint32) uint32 {
	mask := size - 1

	return (pa &^ mask) | (iova & mask)
}
