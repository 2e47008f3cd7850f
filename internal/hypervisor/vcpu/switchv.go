package vcpu

// Switch saves the live user-register frame into the outgoing vcpu (if any), saves its banked
// set, invokes switchCoproc to let the coprocessor emulator switch its context, then restores
// the incoming vcpu's live frame and banked set.
//
// switchCoproc is threaded through as a callback for the same reason ModeChangeFunc is: vcpu
// must not import sysreg.
func Switch(outgoing, incoming *VCPU, switchCoproc func(outgoing, incoming *VCPU)) {
	if outgoing != nil && outgoing.IsNormal {
		outgoing.saveLive()
	}

	if switchCoproc != nil {
		switchCoproc(outgoing, incoming)
	}

	if incoming != nil && incoming.IsNormal {
		incoming.restoreLive()
	}
}

// saveLive snapshots the currently-live banked registers (sp, lr, gpr8-12, SPSR) for the vcpu's
// current mode into its private frame. It is idempotent: calling it twice in a row without an
// intervening mode change just re-writes the same values.
func (v *VCPU) saveLive() {
	mode := v.User.PSR.Mode()
	spsr, _ := v.SPSRRetrieve()
	v.bank.saveMode(v.private, &v.User, mode, spsr)
}

// restoreLive is the mirror of saveLive, run when a vcpu is scheduled back in.
func (v *VCPU) restoreLive() {
	mode := v.User.PSR.Mode()
	v.bank.loadMode(v.private, &v.User, mode)
}
