package vcpu

// Bank abstracts where banked registers physically live. memoryBank is the software-shadowed
// backend, always available, and is the only backend implemented by this module; hardwareBank is
// declared as the seam an arch-specific build would fill in on host CPUs whose virtualisation
// extension keeps the banked guest registers in hardware system registers. Both backends must
// present identical external behaviour; CPSRUpdate and Switch are written against this interface
// only.
type Bank interface {
	// saveMode copies the live sp/lr/gpr8-12 into the banked slot for "from", and the SPSR of
	// "from" if it has one.
	saveMode(pf *PrivateFrame, live *UserFrame, from Mode, liveSPSR PSR)

	// loadMode copies the banked slot for "to" into the live frame, and returns the SPSR "to"
	// should see (zero if "to" has none).
	loadMode(pf *PrivateFrame, live *UserFrame, to Mode) (spsr PSR)
}

// memoryBank keeps every banked register in ordinary memory (the PrivateFrame fields). This is
// the default and, on CPUs without a virtualisation extension, the only implementation.
type memoryBank struct{}

func newMemoryBank() *memoryBank { return &memoryBank{} }

func (memoryBank) saveMode(pf *PrivateFrame, live *UserFrame, from Mode, liveSPSR PSR) {
	idx := modeBank(from)
	pf.banked[idx] = bankedRegs{SP: live.GPR[SP], LR: live.GPR[LR]}

	if from == ModeFIQ {
		copy(pf.GPRFiq[:], live.GPR[R8:R13])
	} else {
		copy(pf.GPRUsr[:], live.GPR[R8:R13])
	}

	if hasSPSR(from) {
		pf.spsr[idx] = liveSPSR
	}
}

func (memoryBank) loadMode(pf *PrivateFrame, live *UserFrame, to Mode) PSR {
	idx := modeBank(to)
	live.GPR[SP] = pf.banked[idx].SP
	live.GPR[LR] = pf.banked[idx].LR

	if to == ModeFIQ {
		copy(live.GPR[R8:R13], pf.GPRFiq[:])
	} else {
		copy(live.GPR[R8:R13], pf.GPRUsr[:])
	}

	if hasSPSR(to) {
		return pf.spsr[idx]
	}

	return 0
}

// hardwareBank is the seam for a virtualisation-extension build that keeps banked registers in
// real banked system registers (e.g. "mrs %_, sp_usr") instead of memory. It is not wired into
// any build tag in this module -- no such hardware target exists here -- but CPSRUpdate and
// Switch depend only on the Bank interface, so a platform-specific package can supply one
// without touching the mode-switch algorithm.
//
// Known restriction, preserved deliberately: on some hardware revisions sp_fiq cannot be saved
// or restored through the ordinary mrs/msr idiom. A real hardwareBank.saveMode must skip sp_fiq
// and leave it live; this can desynchronise sp_fiq if the guest uses FIQ mode non-trivially.
// Do not work around this with a sequence the erratum does not allow.
type hardwareBank struct {
	readBanked  func(mode Mode, reg GPR) (Register, bool)
	writeBanked func(mode Mode, reg GPR, val Register) bool
}

func (h *hardwareBank) saveMode(pf *PrivateFrame, live *UserFrame, from Mode, liveSPSR PSR) {
	// Without real hardware wired in, fall back to the memory-backed behaviour so this type
	// remains usable in tests that exercise the Bank interface directly.
	(memoryBank{}).saveMode(pf, live, from, liveSPSR)
}

func (h *hardwareBank) loadMode(pf *PrivateFrame, live *UserFrame, to Mode) PSR {
	return (memoryBank{}).loadMode(pf, live, to)
}
