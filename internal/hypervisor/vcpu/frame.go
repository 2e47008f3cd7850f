package vcpu

// UserFrame is the register frame written by the low-level trap entry and read by the
// dispatcher: general purpose registers, sp, lr, pc and the live PSR. It is present on every
// vcpu, normal or orphan.
type UserFrame struct {
	GPR [NumGPR]Register // r0-r15; r13(sp)/r14(lr)/r15(pc) are also read through the accessors below.
	PSR PSR
}

func (f *UserFrame) SP() Register  { return f.GPR[SP] }
func (f *UserFrame) LR() Register  { return f.GPR[LR] }
func (f *UserFrame) PC() Register  { return f.GPR[PC] }

// bankedRegs holds the sp and lr belonging to one privilege mode.
type bankedRegs struct {
	SP Register
	LR Register
}

// GenericTimerContext is the vcpu's view of the ARM generic timer, saved/restored by the
// context-switch path only when FeatureGenericTimer is set.
type GenericTimerContext struct {
	CNTV_CTL  uint32
	CNTV_CVAL uint64
	CNTVOFF   uint64
}

// HVShadow mirrors the hypervisor-control registers (HCR, HSTR, HCPTR) for a vcpu so they can be
// restored verbatim across a context switch without touching hardware for a vcpu that is not
// currently scheduled.
type HVShadow struct {
	HCR   uint32
	HSTR  uint32
	HCPTR uint32
}

// Coproc is implemented by the sysreg package's per-vcpu CP15 shadow state. The vcpu package
// treats it as opaque: it knows only that it must be reset on Init and torn down before the
// private frame is freed.
type Coproc interface {
	Reset()
	Teardown()
}

// PrivateFrame holds state that exists only for normal (non-orphan) vcpus: the banked register
// sets, the spare FIQ gprs, the coprocessor-15 shadow state, and (where applicable) the
// hypervisor-control shadow and generic-timer context. Dereferencing this on an orphan vcpu is a
// programming error.
type PrivateFrame struct {
	// GPRUsr holds r8-r12 for every mode except FIQ; GPRFiq holds the FIQ-private copies.
	GPRUsr [5]Register
	GPRFiq [5]Register

	banked [numBanks]bankedRegs
	spsr   [numBanks]PSR // only populated for privileged, non-System banks

	// shadowPSR mirrors the privileged bits of PSR so CPSRRetrieve can merge them with the
	// user-visible bits of the live frame.
	shadowPSR PSR

	Coproc  Coproc
	HV      HVShadow
	Timer   GenericTimerContext
}

func newPrivateFrame() *PrivateFrame {
	return &PrivateFrame{}
}

func (pf *PrivateFrame) zero() {
	*pf = PrivateFrame{}
}
