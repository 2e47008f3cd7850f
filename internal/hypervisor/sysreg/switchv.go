package sysreg

import "github.com/xvisor-project/corehv/internal/hypervisor/vcpu"

// Switch is the switchCoproc callback vcpu.Switch and trapdisp.ContextSwitch expect: it marks
// the outgoing vcpu's cp15 shadow as no longer scheduled, marks the incoming one as scheduled,
// and resyncs the incoming vcpu's DACR for the mode it is currently in.
func Switch(outgoing, incoming *vcpu.VCPU) {
	if outgoing != nil && outgoing.IsNormal {
		if cp, ok := outgoing.Private().Coproc.(*CP15); ok {
			cp.SetScheduled(false)
		}
	}

	if incoming != nil && incoming.IsNormal {
		if cp, ok := incoming.Private().Coproc.(*CP15); ok {
			cp.SetScheduled(true)
			cp.SyncDACR(incoming.User.PSR.Mode(), nil)
		}
	}
}
