// Package mmu implements the stage-1/stage-2 translation-table core: the page-table allocator,
// the L1/L2 short-descriptor tables, reserved-page mirroring across every guest L1, and the
// TLB-invalidation discipline that goes with changing TTBR0.
package mmu

import "fmt"

// EntryType distinguishes the kinds of descriptor a table slot can hold.
type EntryType uint8

const (
	EntryFault EntryType = iota
	EntryTable
	EntrySection
	EntrySuperSection
	EntryLargePage
	EntrySmallPage
)

// Page sizes, in bytes, that GetPage/MapPage/UnmapPage recognise.
const (
	SizeSmallPage    = 4 * 1024
	SizeLargePage    = 64 * 1024
	SizeSection      = 1 * 1024 * 1024
	SizeSuperSection = 16 * 1024 * 1024
)

// Table sizes: L1 = 16 KiB, L2 = 1 KiB in the 32-bit short-descriptor format.
const (
	L1TableSize = 16 * 1024
	L2TableSize = 1 * 1024

	l1NumEntries = L1TableSize / 4 // 4096
	l2NumEntries = L2TableSize / 4 // 256
)

// AP is the two-bit access-permission encoding of a short descriptor.
type AP uint8

const (
	APNoAccess         AP = 0b00 // no-access
	APSystemRWUserNone AP = 0b01 // supervisor-RW / user-none
	APSystemRWUserRO   AP = 0b10 // supervisor-RW / user-RO
	APSystemRWUserRW   AP = 0b11 // supervisor-RW / user-RW
)

// DomainReserved is the domain reserved-page mappings are forced into.
const (
	DomainReserved uint8 = 0x0f
)

// ImpReserved is the implementation tag MapReservedPage/UnmapReservedPage require every caller
// to use. MapPage's overwrite-protection keys off Imp, not Domain, so this tag is what actually
// stops an ordinary guest mapping from silently unmapping-and-overwriting a reserved page: an
// untagged (Imp == 0) guest page would otherwise pass the imp check against a reserved entry.
const ImpReserved uint32 = 0x1

// Page is a translation record: the unit GetPage returns and MapPage/UnmapPage consume.
type Page struct {
	PA     uint64
	VA     uint64
	Size   uint32
	AP     AP
	Domain uint8
	NS     bool
	NG     bool
	S      bool
	TEX    uint8
	XN     bool
	C      bool
	B      bool
	Imp    uint32 // implementation tag; reserved pages use ImpReserved.
}

func (p Page) String() string {
	return fmt.Sprintf("Page(va:%#010x pa:%#010x size:%#x ap:%02b dom:%#x imp:%#x)",
		p.VA, p.PA, p.Size, p.AP, p.Domain, p.Imp)
}

// alignedBase returns the VA truncated to a multiple of size.
func alignedBase(va uint64, size uint32) uint64 {
	return va &^ (uint64(size) - 1)
}

// l1Index returns the L1 slot (0..4095) that va falls into: each slot covers 1 MiB.
func l1Index(va uint64) uint32 {
	return uint32((va >> 20) & 0xfff)
}

// l2Index returns the L2 slot (0..255) that va falls into within its 1 MiB region: each slot
// covers 4 KiB.
func l2Index(va uint64) uint32 {
	return uint32((va >> 12) & 0xff)
}
