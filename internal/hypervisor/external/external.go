// Package external declares the collaborator contracts the virtualisation core depends on but
// does not implement. Device emulators, the device-tree parser, physical-device drivers, and the
// heap/page allocator all live outside this module; the core only ever depends on these
// interfaces.
package external

import "context"

// Scheduler owns vcpu state transitions. The core calls Halt from within a trap handler when it
// detects unrecoverable inconsistency; Halt must be idempotent.
type Scheduler interface {
	CurrentVCPUID() uint32
	Halt(vcpuID uint32, reason string)
}

// DeviceBus routes permission-faulting guest loads/stores on regions flagged "virtual" to device
// emulation. Calls must not be made while a core lock is held.
type DeviceBus interface {
	EmulateRead(ctx context.Context, guestID uint32, gpa uint64, buf []byte) (int, error)
	EmulateWrite(ctx context.Context, guestID uint32, gpa uint64, buf []byte) (int, error)
}

// Region describes a guest-physical address range as the guest address space collaborator
// reports it.
type Region struct {
	HostPA    uint64
	Size      uint64
	IsVirtual bool
}

// AddressSpace resolves a guest-physical address to the region that backs it. The MMU refill
// path (sysreg.RefillVTLB) calls GetRegion once per translation fault.
type AddressSpace interface {
	GetRegion(guestID uint32, gpa uint64) (Region, bool)
}

// IRQKind enumerates the guest-visible exceptions the core injects through IRQInjector.
type IRQKind uint8

const (
	IRQDataAbort IRQKind = iota
	IRQPrefetchAbort
	IRQExternalIRQ
	IRQExternalFIQ
	IRQUndefinedInstruction
	IRQSoftIRQ
)

// IRQInjector asserts a guest-visible interrupt or exception on a vcpu.
type IRQInjector interface {
	Assert(vcpuID uint32, kind IRQKind, data uint32)
}

// DeviceTree is a read-only string/u32 lookup used once at vcpu init to pick the emulated CPU
// model and VTLB sizes.
type DeviceTree interface {
	LookupString(path, prop string) (string, bool)
	LookupU32(path, prop string) (uint32, bool)
}

// TLBOps is the three-function contract the IOMMU allocator uses to invalidate hardware TLB
// state; the allocator never issues hardware TLB operations itself.
type TLBOps struct {
	FlushAll func()
	AddFlush func(iova uint64, size uint64, leaf bool)
	Sync     func()
}

// DMAAttr distinguishes coherent and non-coherent DMA allocations.
type DMAAttr uint8

const (
	DMACoherent DMAAttr = iota
	DMANonCoherent
)

// PageAllocator returns page-aligned, cache-coherent, physically contiguous memory and performs
// the address translations the rest of the core needs but does not own.
type PageAllocator interface {
	AllocPages(count int, attr DMAAttr) (hostVA uint64, hostPA uint64, err error)
	FreePages(hostVA uint64, count int)
	VA2PA(va uint64) (uint64, bool)
	PA2VA(pa uint64) (uint64, bool)
}
