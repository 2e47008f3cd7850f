package trapdisp

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/external"
	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
	"github.com/xvisor-project/corehv/internal/hypervisor/mmu"
	"github.com/xvisor-project/corehv/internal/hypervisor/sysreg"
	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
	"github.com/xvisor-project/corehv/internal/log"
)

// Deps bundles the collaborators a trap handler needs: this vcpu's coprocessor shadow, the MMU
// core and its current L1, the guest's external collaborators, and the guest ID the refill path
// needs to resolve a region. Dispatch passes the same Deps to every handler; individual handlers
// use only the fields their class needs.
type Deps struct {
	CP15         *sysreg.CP15
	MMU          *mmu.Core
	L1           *mmu.L1Table
	GuestID      uint32
	Injector     external.IRQInjector
	Scheduler    external.Scheduler
	AddressSpace external.AddressSpace
	DeviceBus    external.DeviceBus
}

// trapHandler is implemented once per exception class.
type trapHandler interface {
	handle(v *vcpu.VCPU, s Syndrome, d Deps) error
}

var handlers = map[ExceptionClass]trapHandler{
	ClassWFIWFE:         wfiHandler{},
	ClassCP15MCRMRC:     cp15Handler{},
	ClassSysRegTrap:     cp15Handler{},
	ClassSupervisorCall: supervisorCallHandler{},
	ClassStage1Abort:    stage1AbortHandler{},
	ClassStage2Abort:    stage2AbortHandler{},
}

// Dispatch routes one decoded trap syndrome to its class handler. Unknown classes halt the vcpu:
// there is no way to make progress on a trap the core does not understand, and retrying it would
// re-trap forever.
func Dispatch(v *vcpu.VCPU, s Syndrome, d Deps) error {
	h, ok := handlers[s.Class]
	if !ok {
		v.Halt(d.Scheduler, fmt.Sprintf("unknown exception class %s", s.Class))
		return fmt.Errorf("trapdisp: dispatch: %w: class %s", hverrors.ErrFail, s.Class)
	}

	return h.handle(v, s, d)
}

// wfiHandler services a WFI/WFE trap. The core makes no scheduling decisions; it returns success
// and leaves the decision to idle the host CPU (or not) to the scheduler.
type wfiHandler struct{}

func (wfiHandler) handle(v *vcpu.VCPU, _ Syndrome, _ Deps) error {
	log.DefaultLogger().Debug("wfi/wfe trap", "vcpu", v.ID)
	return nil
}

// cp15Handler services a cp15/cp14 MCR/MRC trap or a system-register trap. A register the
// decoder does not recognise raises the "bad register" signal, which this handler converts into
// an injected Undefined-Instruction exception -- never an error code back to the guest.
type cp15Handler struct{}

func (cp15Handler) handle(v *vcpu.VCPU, s Syndrome, d Deps) error {
	if d.CP15 == nil {
		return fmt.Errorf("trapdisp: cp15 trap: %w: no coproc state", hverrors.ErrFail)
	}

	if s.Write {
		val := uint32(v.RegRead(s.Rt))

		if ok := d.CP15.Write(s.Opc1, s.Opc2, s.CRn, s.CRm, val); !ok {
			injectUndefined(v, d)
		}

		return nil
	}

	val, ok := d.CP15.Read(s.Opc1, s.Opc2, s.CRn, s.CRm)
	if !ok {
		injectUndefined(v, d)
		return nil
	}

	v.RegWrite(s.Rt, vcpu.Register(val))

	return nil
}

func injectUndefined(v *vcpu.VCPU, d Deps) {
	if d.Injector != nil {
		d.Injector.Assert(v.ID, external.IRQUndefinedInstruction, 0)
	}
}

// supervisorCallHandler services SVC/HVC/SMC. The hypercall ABI itself belongs to the host
// command layer; this handler only recognises the class so Dispatch does not treat it as
// unknown.
type supervisorCallHandler struct{}

func (supervisorCallHandler) handle(v *vcpu.VCPU, s Syndrome, d Deps) error {
	log.DefaultLogger().Debug("supervisor call", "vcpu", v.ID, "imm", s.Imm)
	return nil
}

// stage1AbortHandler services a guest instruction/data abort against the stage-1 (guest virtual
// -> guest physical) mapping. With the guest's MMU disabled, a data access whose backing region
// is flagged virtual is routed to device emulation; any other faulting access goes down the VTLB
// refill path, which installs a mapping and lets the guest re-execute the instruction. When the
// refill cannot repair the fault (or the guest's MMU is on), a real abort is injected.
type stage1AbortHandler struct{}

func (stage1AbortHandler) handle(v *vcpu.VCPU, s Syndrome, d Deps) error {
	if d.CP15 == nil {
		return fmt.Errorf("trapdisp: stage1 abort: %w: no coproc state", hverrors.ErrFail)
	}

	page := s.Page

	if !s.MMUEnabled && d.AddressSpace != nil {
		if region, ok := d.AddressSpace.GetRegion(d.GuestID, uint64(s.FaultAddr)); ok {
			// A region too small for a section descriptor can only ever be mapped at page
			// granularity, whatever the entry syndrome claimed.
			if region.Size < mmu.SizeSection {
				page = true
			}

			if region.IsVirtual && !s.Instruction && d.DeviceBus != nil {
				return emulateAccess(v, s, d)
			}

			if d.MMU != nil && d.L1 != nil && refillVTLBAndMap(v, s, d) {
				return nil
			}
		}
	}

	f := hverrors.Fault{
		Kind:        hverrors.FaultTranslation,
		Instruction: s.Instruction,
		Page:        page,
		Addr:        s.FaultAddr,
		Write:       s.Write,
	}

	d.CP15.AssertFault(f, d.Injector)

	return nil
}

// emulateAccess routes a data access on a virtual region to device emulation: a store sends
// Rt's value to the bus, a load fills Rt from it. Word-sized accesses only; the access width for
// sub-word loads/stores would come from instruction decode, which the syndrome does not carry.
// No core lock is held across the bus call.
func emulateAccess(v *vcpu.VCPU, s Syndrome, d Deps) error {
	var buf [4]byte

	if s.Write {
		binary.LittleEndian.PutUint32(buf[:], uint32(v.RegRead(s.Rt)))

		if _, err := d.DeviceBus.EmulateWrite(context.Background(), d.GuestID, uint64(s.FaultAddr), buf[:]); err != nil {
			return fmt.Errorf("trapdisp: emulate write at %#x: %w", s.FaultAddr, err)
		}

		return nil
	}

	if _, err := d.DeviceBus.EmulateRead(context.Background(), d.GuestID, uint64(s.FaultAddr), buf[:]); err != nil {
		return fmt.Errorf("trapdisp: emulate read at %#x: %w", s.FaultAddr, err)
	}

	v.RegWrite(s.Rt, vcpu.Register(binary.LittleEndian.Uint32(buf[:])))

	return nil
}

// refillVTLBAndMap wires the virtual-TLB refill to the MMU core: it evicts the VTLB's
// round-robin victim, unmaps its previous backing from the vcpu's L1 if the victim was valid,
// then installs the new mapping. It reports whether a mapping was installed so the caller knows
// whether to fall through to a guest-visible fault.
func refillVTLBAndMap(v *vcpu.VCPU, s Syndrome, d Deps) bool {
	entry, evicted, hadEvicted, ok := d.CP15.RefillVTLB(d.GuestID, s.FaultAddr, d.AddressSpace, defaultVTLBPageSizes)
	if !ok {
		return false
	}

	if hadEvicted {
		_ = d.MMU.UnmapPage(d.L1, mmu.Page{
			PA: evicted.PA, VA: evicted.VA, Size: evicted.Size,
			AP: mmu.AP(evicted.AP), Domain: evicted.Domain,
		})
	}

	page := mmu.Page{
		PA: entry.PA, VA: entry.VA, Size: entry.Size,
		AP: mmu.AP(entry.AP), Domain: entry.Domain, XN: entry.NoExec,
	}

	return d.MMU.MapPage(d.L1, page) == nil
}

// defaultVTLBPageSizes is the largest-to-smallest candidate list RefillVTLB picks from.
var defaultVTLBPageSizes = []uint32{mmu.SizeSuperSection, mmu.SizeSection, mmu.SizeLargePage, mmu.SizeSmallPage}

// stage2AbortHandler services a fault against the stage-2 (guest-physical -> host-physical)
// mapping. The core has no refill policy for stage-2, so every stage-2 abort it observes is
// forwarded to the guest as a real fault.
type stage2AbortHandler struct{}

func (stage2AbortHandler) handle(v *vcpu.VCPU, s Syndrome, d Deps) error {
	if d.CP15 == nil {
		return fmt.Errorf("trapdisp: stage2 abort: %w: no coproc state", hverrors.ErrFail)
	}

	f := hverrors.Fault{
		Kind:        hverrors.FaultTranslation,
		Instruction: s.Instruction,
		Page:        s.Page,
		Addr:        s.FaultAddr,
		Write:       s.Write,
	}

	d.CP15.AssertFault(f, d.Injector)

	return nil
}
