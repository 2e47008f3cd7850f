package trapdisp

import (
	"github.com/xvisor-project/corehv/internal/hypervisor/mmu"
	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
)

// MMUContext bundles the MMU-core handle and the incoming vcpu's stage-2 table. The sysreg half
// of a switch (via switchCoproc) updates DACR; loading the matching translation table and
// recording it as current -- so a later UnmapPage on that table knows to invalidate the TLB
// line -- is this half. Core and L1 left nil (the zero value) mean "no stage-2 table to
// install", e.g. in tests that don't exercise the MMU.
type MMUContext struct {
	Core     *mmu.Core
	L1       *mmu.L1Table
	FlushTLB func()
}

// ContextSwitch switches the host CPU from one vcpu to another, called with
// (outgoing_vcpu_or_none, incoming_vcpu):
//
//  1. If outgoing is present and normal: save vGIC state, save generic-timer context (only if
//     FeatureGenericTimer is set), save the HCR/HSTR/HCPTR shadow. The pc/lr/sp/gprs/cpsr and
//     banked-register save is delegated to vcpu.Switch.
//  2. Switch cp15 context via switchCoproc (sysreg updates DACR as needed) -- this happens
//     inside vcpu.Switch, between its save and restore halves -- then load the incoming vcpu's
//     stage-2 table via mmuCtx (mmu.Core.ChangeTTBR).
//  3. Restore pc/lr/sp/gprs/cpsr from the incoming vcpu (the restore half of the same
//     vcpu.Switch call); restore HCR/HCPTR/
//     HSTR; restore generic-timer; restore vGIC.
//  4. Clear the exclusive monitor.
func ContextSwitch(outgoing, incoming *vcpu.VCPU, switchCoproc func(outgoing, incoming *vcpu.VCPU), host HostControl, vgic VGIC, timer GenericTimer, mmuCtx MMUContext) {
	if host == nil {
		host = &NoopHostControl{}
	}

	if vgic == nil {
		vgic = NoopVGIC{}
	}

	if timer == nil {
		timer = NoopGenericTimer{}
	}

	if outgoing != nil && outgoing.IsNormal {
		vgic.Save(outgoing)

		if outgoing.Features.Has(vcpu.FeatureGenericTimer) {
			timer.Save(outgoing)
		}

		saveHV(outgoing, host)
	}

	vcpu.Switch(outgoing, incoming, switchCoproc)

	if mmuCtx.Core != nil && mmuCtx.L1 != nil && incoming != nil {
		mmuCtx.Core.ChangeTTBR(mmuCtx.L1, mmuCtx.FlushTLB)
	}

	if incoming != nil && incoming.IsNormal {
		restoreHV(incoming, host)

		if incoming.Features.Has(vcpu.FeatureGenericTimer) {
			timer.Restore(incoming)
		}

		vgic.Restore(incoming)
	}

	clearExclusiveMonitor()
}

// saveHV copies the live HCR/HSTR/HCPTR (as host reports them) into the vcpu's private shadow.
func saveHV(v *vcpu.VCPU, host HostControl) {
	hv := &v.Private().HV
	hv.HCR = host.ReadHCR()
	hv.HSTR = host.ReadHSTR()
	hv.HCPTR = host.ReadHCPTR()
}

// restoreHV writes the vcpu's private HCR/HSTR/HCPTR shadow back to the host.
func restoreHV(v *vcpu.VCPU, host HostControl) {
	hv := v.Private().HV
	host.WriteHCR(hv.HCR)
	host.WriteHSTR(hv.HSTR)
	host.WriteHCPTR(hv.HCPTR)
}

// clearExclusiveMonitor is a stub. There is no real exclusive-monitor hardware in this simulated
// core; the call is the seam an arch-specific build fills in with the real CLREX sequence.
func clearExclusiveMonitor() {}
