package iommu

import (
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/external"
)

// SelfTestReport summarises the outcome of SelfTest, the allocator's deterministic six-step
// property check. xvisorctl's iommu-selftest subcommand runs this directly, the same path the
// package's own tests exercise.
type SelfTestReport struct {
	Steps []string // one line per completed step, in order.
}

// SelfTest builds a domain over the standard four page sizes and drives it through:
//  1. allocation,
//  2. empty-table lookups (must read back 0),
//  3. identity-mapping each size and verifying the round trip,
//  4. rejecting an overlapping map,
//  5. a partial unmap/re-map of one sub-page per region larger than one page,
//  6. a full unmap/re-map of every region.
//
// It returns a report of completed steps, or the first error encountered.
func SelfTest() (SelfTestReport, error) {
	var report SelfTestReport

	cfg := Config{
		IAS:       32,
		OAS:       32,
		PageSizes: []uint32{SizePage, SizeContigPage, SizeSection, SizeContigSection},
		Quirks:    QuirkTLBIOnMap,
	}

	d, _, err := Alloc(cfg, "selftest", external.TLBOps{})
	if err != nil {
		return report, fmt.Errorf("iommu: selftest: alloc: %w", err)
	}

	report.Steps = append(report.Steps, "step 1: allocated domain")

	for _, addr := range []uint32{0, 0x1000, 0x40000000} {
		if got := d.IOVAToPhys(addr); got != 0 {
			return report, fmt.Errorf("iommu: selftest: empty table lookup(%#x) = %#x, want 0", addr, got)
		}
	}

	report.Steps = append(report.Steps, "step 2: empty-table lookups returned 0")

	sizes := []uint32{SizePage, SizeContigPage, SizeSection, SizeContigSection}
	regionBase := map[uint32]uint32{
		SizePage:          0x10000000,
		SizeContigPage:    0x20000000,
		SizeSection:       0x30000000,
		SizeContigSection: 0x40000000,
	}

	for _, size := range sizes {
		base := regionBase[size]

		if err := d.Map(base, base, size, ProtRead|ProtWrite); err != nil {
			return report, fmt.Errorf("iommu: selftest: map size %#x: %w", size, err)
		}

		for _, off := range []uint32{0, size / 2, size - 4} {
			addr := base + off
			if got := d.IOVAToPhys(addr); got != addr {
				return report, fmt.Errorf("iommu: selftest: size %#x: lookup(%#x) = %#x, want %#x", size, addr, got, addr)
			}
		}
	}

	report.Steps = append(report.Steps, "step 3: identity-mapped and round-tripped every size")

	for _, size := range sizes {
		base := regionBase[size]

		if err := d.Map(base, base+0x1000000, size, ProtRead|ProtWrite); err == nil {
			return report, fmt.Errorf("iommu: selftest: size %#x: overlapping map succeeded, want error", size)
		}
	}

	report.Steps = append(report.Steps, "step 4: overlapping maps rejected")

	for _, size := range sizes {
		if size == SizePage {
			continue // a single-page region has no second page to split out.
		}

		base := regionBase[size]
		second := base + SizePage

		n, err := d.Unmap(second, SizePage)
		if err != nil {
			return report, fmt.Errorf("iommu: selftest: size %#x: partial unmap: %w", size, err)
		}

		if n != SizePage {
			return report, fmt.Errorf("iommu: selftest: size %#x: partial unmap bytes = %d, want %d", size, n, SizePage)
		}

		if got := d.IOVAToPhys(second); got != 0 {
			return report, fmt.Errorf("iommu: selftest: size %#x: lookup after partial unmap = %#x, want 0", size, got)
		}

		if err := d.Map(second, second, SizePage, ProtRead|ProtWrite); err != nil {
			return report, fmt.Errorf("iommu: selftest: size %#x: remap after partial unmap: %w", size, err)
		}

		if got := d.IOVAToPhys(second); got != second {
			return report, fmt.Errorf("iommu: selftest: size %#x: lookup after remap = %#x, want %#x", size, got, second)
		}
	}

	report.Steps = append(report.Steps, "step 5: partial unmap/re-map round-tripped every multi-page size")

	for _, size := range sizes {
		base := regionBase[size]

		for off := uint32(0); off < size; off += SizePage {
			d.Unmap(base+off, SizePage) //nolint:errcheck // best-effort teardown of a possibly-already-unmapped page.
		}

		for _, off := range []uint32{0, size / 2, size - SizePage} {
			if got := d.IOVAToPhys(base + off); got != 0 {
				return report, fmt.Errorf("iommu: selftest: size %#x: lookup after full unmap(%#x) = %#x, want 0", size, base+off, got)
			}
		}

		if err := d.Map(base, base, size, ProtRead|ProtWrite); err != nil {
			return report, fmt.Errorf("iommu: selftest: size %#x: remap after full unmap: %w", size, err)
		}

		if got := d.IOVAToPhys(base); got != base {
			return report, fmt.Errorf("iommu: selftest: size %#x: lookup after full remap = %#x, want %#x", size, got, base)
		}
	}

	report.Steps = append(report.Steps, "step 6: full unmap/re-map round-tripped every size")

	return report, nil
}
