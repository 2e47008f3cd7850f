package iommu

import "fmt"

// Map installs an IOVA->PA translation at the requested size, which must be one of the domain's
// configured page sizes. A prot carrying neither read nor write is accepted as a no-op; a target
// range overlapping an existing mapping fails. With the TLBI-on-map quirk, a leaf flush is
// gathered and synced before returning.
func (d *Domain) Map(iova, pa uint32, size uint32, prot Prot) error {
	if prot&(ProtRead|ProtWrite) == 0 {
		return nil
	}

	if !d.sizeSupported(size) {
		return fmt.Errorf("iommu: map: %w: size %#x not in page-size bitmap", errUnsupported, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var err error

	switch size {
	case SizeContigSection:
		err = d.mapL1Run(iova, pa, prot, entryContigSection, 16)
	case SizeSection:
		err = d.mapL1Run(iova, pa, prot, entrySection, 1)
	case SizeContigPage:
		err = d.mapL2Run(iova, pa, prot, entryContigPage, 16)
	case SizePage:
		err = d.mapL2Run(iova, pa, prot, entryPage, 1)
	default:
		err = fmt.Errorf("iommu: map: %w: unsupported size %#x", errUnsupported, size)
	}

	if err != nil {
		return err
	}

	if d.cfg.Quirks&QuirkTLBIOnMap != 0 && d.tlb.AddFlush != nil {
		d.tlb.AddFlush(uint64(iova), uint64(size), true)

		if d.tlb.Sync != nil {
			d.tlb.Sync()
		}
	}

	return nil
}

func (d *Domain) sizeSupported(size uint32) bool {
	for _, s := range d.cfg.PageSizes {
		if s == size {
			return true
		}
	}

	return false
}

func (d *Domain) mapL1Run(iova, pa uint32, prot Prot, typ entryType, count uint32) error {
	base := l1Index(alignedBase(iova, count*SizeSection))

	for i := uint32(0); i < count; i++ {
		if d.l1[base+i].typ != entryFault {
			return fmt.Errorf("iommu: map: l1 slot %d occupied: %w", base+i, errFail)
		}
	}

	for i := uint32(0); i < count; i++ {
		d.l1[base+i] = l1Entry{typ: typ, pa: pa, prot: prot}
	}

	return nil
}

func (d *Domain) mapL2Run(iova, pa uint32, prot Prot, typ entryType, count uint32) error {
	idx := l1Index(iova)

	var l2 *l2Table

	switch d.l1[idx].typ {
	case entryFault:
		var err error

		l2, err = d.allocL2()
		if err != nil {
			return fmt.Errorf("iommu: map: alloc l2: %w", err)
		}

		d.l1[idx] = l1Entry{typ: entryTable, l2: l2}
	case entryTable:
		l2 = d.l1[idx].l2
	default:
		return fmt.Errorf("iommu: map: l1 slot %d holds a section: %w", idx, errFail)
	}

	base := l2Index(alignedBase(iova, count*SizePage))

	for i := uint32(0); i < count; i++ {
		if l2.entries[base+i].typ != entryFault {
			// Roll back an L2 this call allocated fresh, so a failed map leaves the table
			// exactly as it found it.
			if d.l1[idx].typ == entryTable && d.l1[idx].l2 == l2 && l2.count == 0 {
				d.l1[idx] = l1Entry{}
				d.freeL2(l2)
			}

			return fmt.Errorf("iommu: map: l2 slot %d occupied: %w", base+i, errFail)
		}
	}

	for i := uint32(0); i < count; i++ {
		l2.entries[base+i] = l2Entry{typ: typ, pa: pa, prot: prot}
		l2.count++
	}

	return nil
}
