package iommu

import "fmt"

// Unmap returns the number of bytes actually unmapped (0 if nothing was mapped there),
// splitting a larger contiguous block into individual descriptors when the requested range only
// covers part of it. A TLB flush covering the requested range is gathered and synced whenever
// something was removed.
func (d *Domain) Unmap(iova uint32, size uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.unmapLocked(iova, size)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		leaf := true
		if d.tlb.AddFlush != nil {
			d.tlb.AddFlush(uint64(iova), uint64(size), leaf)
		}

		if d.tlb.Sync != nil {
			d.tlb.Sync()
		}
	}

	return n, nil
}

func (d *Domain) unmapLocked(iova uint32, size uint32) (uint32, error) {
	idx := l1Index(iova)
	e := d.l1[idx]

	switch e.typ {
	case entryFault:
		return 0, nil

	case entryContigSection:
		base := alignedBase(iova, SizeContigSection)
		baseIdx := l1Index(base)

		if size == SizeContigSection && iova == base {
			for i := uint32(0); i < 16; i++ {
				d.l1[baseIdx+i] = l1Entry{}
			}

			return SizeContigSection, nil
		}

		// Split into 16 individual 1 MiB sections carrying the same attributes, then retry: the
		// smaller unmap now lands in the entrySection case below.
		for i := uint32(0); i < 16; i++ {
			d.l1[baseIdx+i] = l1Entry{typ: entrySection, pa: e.pa + i*SizeSection, prot: e.prot}
		}

		return d.unmapLocked(iova, size)

	case entrySection:
		base := alignedBase(iova, SizeSection)
		baseIdx := l1Index(base)

		if size == SizeSection && iova == base {
			d.l1[baseIdx] = l1Entry{}
			return SizeSection, nil
		}

		l2, err := d.allocL2()
		if err != nil {
			// Abort with the section untouched.
			return 0, fmt.Errorf("iommu: unmap: split: %w", err)
		}

		for i := 0; i < l2NumEntries; i++ {
			l2.entries[i] = l2Entry{typ: entryPage, pa: e.pa + uint32(i)*SizePage, prot: e.prot}
		}

		l2.count = l2NumEntries
		d.l1[baseIdx] = l1Entry{typ: entryTable, l2: l2}

		return d.unmapLocked(iova, size)

	case entryTable:
		return d.unmapL2Locked(idx, e.l2, iova, size)

	default:
		return 0, fmt.Errorf("iommu: unmap: %w: corrupt l1 descriptor", errFail)
	}
}

func (d *Domain) unmapL2Locked(l1idx uint32, l2 *l2Table, iova uint32, size uint32) (uint32, error) {
	idx2 := l2Index(iova)
	le := l2.entries[idx2]

	switch le.typ {
	case entryFault:
		return 0, nil

	case entryContigPage:
		base := alignedBase(iova, SizeContigPage)
		baseIdx := l2Index(base)

		if size == SizeContigPage && iova == base {
			for i := uint32(0); i < 16; i++ {
				l2.entries[baseIdx+i] = l2Entry{}
				l2.count--
			}

			d.maybeFreeL2(l1idx, l2)

			return SizeContigPage, nil
		}

		for i := uint32(0); i < 16; i++ {
			l2.entries[baseIdx+i] = l2Entry{typ: entryPage, pa: le.pa + i*SizePage, prot: le.prot}
		}

		return d.unmapL2Locked(l1idx, l2, iova, size)

	case entryPage:
		base := alignedBase(iova, SizePage)

		if size != SizePage || iova != base {
			return 0, fmt.Errorf("iommu: unmap: %w: sub-page unmap unsupported", errUnsupported)
		}

		l2.entries[idx2] = l2Entry{}
		l2.count--

		d.maybeFreeL2(l1idx, l2)

		return SizePage, nil

	default:
		return 0, fmt.Errorf("iommu: unmap: %w: corrupt l2 descriptor", errFail)
	}
}

func (d *Domain) maybeFreeL2(l1idx uint32, l2 *l2Table) {
	if l2.count == 0 {
		d.l1[l1idx] = l1Entry{}
		d.freeL2(l2)
	}
}
