package sysreg

import "github.com/xvisor-project/corehv/internal/hypervisor/vcpu"

// Domain number the reserved-page mappings use; matches mmu.DomainReserved's value (kept as a
// separate constant since sysreg must not import mmu -- both packages are wired together from
// guest/hvconfig, not to each other).
const domainSuper = 0x0f

// Domain access-control client/no-access encodings (two bits per domain in DACR).
const (
	dacrNoAccess uint32 = 0b00
	dacrClient   uint32 = 0b01
)

// SyncDACR recomputes the domain bits after a mode change, so that the reserved/supervisor
// domain maps to "client" in a privileged mode and "no-access" in User mode. hwUpdate is called
// to push the recomputed value to the real hardware DACR, but only when this vcpu is the one
// currently scheduled on the host CPU; the caller decides that and may pass nil.
func (c *CP15) SyncDACR(mode vcpu.Mode, hwUpdate func(dacr uint32)) {
	const domainShift = domainSuper * 2

	c.dacr &^= 0b11 << domainShift

	if mode.Privileged() {
		c.dacr |= dacrClient << domainShift
	} else {
		c.dacr |= dacrNoAccess << domainShift
	}

	if hwUpdate != nil {
		hwUpdate(c.dacr)
	}
}

// ModeChange is a vcpu.ModeChangeFunc: installed as the onModeChange callback of
// vcpu.CPSRUpdate, it keeps this vcpu's shadow DACR in step with the mode the guest just
// switched into. The hardware DACR is only touched when scheduled (set by trapdisp's
// context-switch path) reports this vcpu as the one currently running on the host CPU.
func (c *CP15) ModeChange(v *vcpu.VCPU, old, new vcpu.Mode) {
	var hwUpdate func(uint32)
	if c.scheduled {
		hwUpdate = func(dacr uint32) { /* hardware DACR write stub: no host DACR in this core. */ }
	}

	c.SyncDACR(new, hwUpdate)
}

// SetScheduled records whether this vcpu is the one currently running on the host CPU, so
// ModeChange knows whether to push DACR updates to hardware.
func (c *CP15) SetScheduled(scheduled bool) { c.scheduled = scheduled }

// DACR returns the shadow DACR value, for diagnostics and tests.
func (c *CP15) DACR() uint32 { return c.dacr }
