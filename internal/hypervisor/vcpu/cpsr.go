package vcpu

import (
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// ModeChangeFunc is notified after a successful mode switch so the coprocessor emulator can
// recompute the DACR/ASID that follow the new mode. The vcpu package cannot import sysreg --
// sysreg depends on vcpu, not the reverse -- so the notification is threaded through as a
// callback.
type ModeChangeFunc func(v *VCPU, old, new Mode)

// CPSRRetrieve returns a PSR that merges the user-visible bits of the live frame's PSR with the
// privileged bits of the shadow PSR.
func (v *VCPU) CPSRRetrieve() PSR {
	live := v.User.PSR & UserMask

	if v.IsNormal {
		return live | (v.private.shadowPSR & PrivMask)
	}

	return live | (v.User.PSR & PrivMask)
}

// CPSRUpdate applies (newVal & mask) to the CPSR. It is atomic under the vcpu's scheduling; if
// mask touches the mode field and the new mode differs from the current one, banked registers
// are saved for the outgoing mode and restored for the incoming mode before onModeChange is
// invoked.
//
// The guard below uses "||": earlier revisions of this check read `v == nil && !v.IsNormal`,
// which only rejected a nil vcpu that also claimed to be an orphan. The correct precondition
// rejects either a nil vcpu or one without a private frame to bank into.
func (v *VCPU) CPSRUpdate(newVal PSR, mask PSR, onModeChange ModeChangeFunc) error {
	if v == nil || !v.IsNormal {
		return fmt.Errorf("cpsr_update: %w", hverrors.ErrFail)
	}

	oldMode := v.User.PSR.Mode()
	changingMode := mask&PSR(ModeMask) != 0

	var newMode Mode
	if changingMode {
		newMode = Mode(newVal & ModeMask)

		if !newMode.Valid() {
			return fmt.Errorf("cpsr_update: unknown mode %#02x: %w", uint8(newMode), hverrors.ErrFail)
		}
	} else {
		newMode = oldMode
	}

	if changingMode && newMode != oldMode {
		// Save outgoing bank, install new PSR, restore incoming bank. The SPSR handed to the
		// bank is the outgoing mode's own stored SPSR: a CPSR write changes no SPSR, so for the
		// memory-backed bank this is a rewrite of the same value.
		outSPSR, _ := v.SPSRRetrieve()
		v.bank.saveMode(v.private, &v.User, oldMode, outSPSR)

		v.User.PSR = (v.User.PSR &^ mask) | (newVal & mask)
		v.private.shadowPSR = (v.private.shadowPSR &^ mask) | (newVal & mask)

		spsr := v.bank.loadMode(v.private, &v.User, newMode)
		_ = spsr // SPSR for the incoming mode is read back via SPSRRetrieve, not injected here.

		if onModeChange != nil {
			onModeChange(v, oldMode, newMode)
		}
	} else {
		v.User.PSR = (v.User.PSR &^ mask) | (newVal & mask)
		v.private.shadowPSR = (v.private.shadowPSR &^ mask) | (newVal & mask)
	}

	return nil
}

// SPSRRetrieve returns the SPSR belonging to the current mode. User mode has no SPSR.
func (v *VCPU) SPSRRetrieve() (PSR, error) {
	mode := v.User.PSR.Mode()

	if mode == ModeUser {
		return 0, fmt.Errorf("spsr_retrieve: %w", hverrors.ErrFail)
	}

	return v.private.spsr[modeBank(mode)], nil
}

// SPSRUpdate applies (newVal & mask) to the current mode's SPSR. Updating SPSR from User mode
// fails and leaves state unchanged; in System mode, which has no SPSR, the write is ignored.
func (v *VCPU) SPSRUpdate(newVal PSR, mask PSR) error {
	mode := v.User.PSR.Mode()

	if mode == ModeUser {
		return fmt.Errorf("spsr_update: %w", hverrors.ErrFail)
	}

	if !hasSPSR(mode) {
		return nil
	}

	idx := modeBank(mode)
	v.private.spsr[idx] = (v.private.spsr[idx] &^ mask) | (newVal & mask)

	return nil
}
