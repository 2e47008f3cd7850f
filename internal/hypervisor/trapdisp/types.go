// Package trapdisp implements the context-switch and trap-dispatch glue: it saves and restores
// the hardware state that crosses a vcpu/host switch, and funnels hardware traps into the
// register bank (vcpu), the coprocessor emulator (sysreg) or the MMU core (mmu). Dispatch keys a
// handler off the exception class, one handler type per class.
package trapdisp

import "github.com/xvisor-project/corehv/internal/hypervisor/vcpu"

// ExceptionClass enumerates the hardware trap classes the dispatcher recognises.
type ExceptionClass uint8

const (
	ClassUnknown ExceptionClass = iota
	ClassWFIWFE
	ClassCP15MCRMRC
	ClassSysRegTrap
	ClassSupervisorCall // SVC/HVC/SMC
	ClassStage1Abort
	ClassStage2Abort
)

func (c ExceptionClass) String() string {
	switch c {
	case ClassWFIWFE:
		return "wfi-wfe"
	case ClassCP15MCRMRC:
		return "cp15-mcr-mrc"
	case ClassSysRegTrap:
		return "sysreg-trap"
	case ClassSupervisorCall:
		return "svc-hvc-smc"
	case ClassStage1Abort:
		return "stage1-abort"
	case ClassStage2Abort:
		return "stage2-abort"
	default:
		return "unknown"
	}
}

// Syndrome is the decoded hardware trap syndrome (e.g. ARM's HSR) the low-level entry hands the
// dispatcher. Only the fields a given exception class consults are meaningful; the zero value of
// the rest is ignored.
type Syndrome struct {
	Class ExceptionClass

	// cp15/cp14 MCR/MRC and system-register-trap fields.
	Opc1, Opc2, CRn, CRm uint8
	Rt                    vcpu.GPR
	Write                 bool // true: MCR (guest->coproc); false: MRC (coproc->guest)

	// Abort fields.
	FaultAddr   uint32 // DFAR/IFAR for stage-1; the faulting IPA for stage-2
	Instruction bool   // true: prefetch/instruction abort; false: data abort
	Page        bool   // fault taken at page (vs section) granularity, per the entry's FSR decode
	MMUEnabled  bool   // guest SCTLR.M at fault time; false routes stage-1 aborts to VTLB refill

	// SupervisorCall immediate, for diagnostics.
	Imm uint32
}
