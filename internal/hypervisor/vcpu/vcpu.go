package vcpu

import (
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
	"github.com/xvisor-project/corehv/internal/log"
)

// VCPU is one virtual CPU owned by a guest. The User frame always exists; the Private frame
// exists only when IsNormal is true.
type VCPU struct {
	ID       uint32
	GuestID  uint32
	State    State
	IsNormal bool // false: an orphan / hypervisor worker context.

	// GuestIndex is this vcpu's position within its guest's vcpu list (0-based), the value
	// MPIDR is synthesised from when the emulated CPU has MP extensions.
	GuestIndex uint32

	StartPC  Register
	StartSP  Register
	StackVA  Register
	StackSz  uint32

	ResetCount uint32
	Features   Feature

	User    UserFrame
	private *PrivateFrame // nil unless IsNormal

	bank Bank // register-bank backend; see bank.go

	log *log.Logger
}

// New allocates a vcpu. The private frame is not allocated until the first reset.
func New(id, guestID uint32, isNormal bool, startPC, startSP Register) *VCPU {
	return &VCPU{
		ID:       id,
		GuestID:  guestID,
		IsNormal: isNormal,
		StartPC:  startPC,
		StartSP:  startSP,
		State:    StateUnknown,
		bank:     newMemoryBank(),
		log:      log.DefaultLogger(),
	}
}

// modelReset is the per-model template applied on Init: the feature bitmap implied by a
// CPU-compatible string. The sysreg package applies its own per-model template for ID registers;
// this is the vcpu-local subset.
type modelReset struct {
	features Feature
}

var knownModels = map[string]modelReset{
	"arm,cortex-a7":  {features: FeatureV7 | FeatureV7MP | FeatureVFP4 | FeatureNEON | FeatureLPAE | FeatureGenericTimer},
	"arm,cortex-a9":  {features: FeatureV7 | FeatureV7MP | FeatureVFP3 | FeatureNEON | FeatureGenericTimer},
	"arm,cortex-a8":  {features: FeatureV7 | FeatureVFP3},
	"arm,arm1176":    {features: FeatureV6K},
	"arm,arm926":     {features: FeatureV5},
}

// Init zeroes the user frame, sets PC to start_pc, sets PSR to the model's reset value,
// allocates the private frame on first reset, sets feature bits from modelID, then delegates to
// the coprocessor emulator via initCoproc.
func (v *VCPU) Init(modelID string, initCoproc func(v *VCPU)) error {
	model, ok := knownModels[modelID]
	if !ok {
		return fmt.Errorf("vcpu: init: %w: unknown model %q", hverrors.ErrInvalid, modelID)
	}

	v.User = UserFrame{}
	v.User.GPR[PC] = v.StartPC

	// Both normal and orphan vcpus come up in Supervisor. An orphan is a hypervisor worker
	// context and also gets its stack installed here; a normal vcpu's guest sets its own sp.
	if !v.IsNormal {
		v.User.GPR[SP] = v.StartSP
	}

	v.User.PSR = PSR(ModeSupervisor) | PSRI | PSRF // IRQ/FIQ masked at reset.
	v.Features = model.features

	if v.IsNormal {
		if v.ResetCount == 0 {
			v.private = newPrivateFrame()
		} else {
			v.private.zero()
		}

		v.private.shadowPSR = v.User.PSR & PrivMask
	}

	v.ResetCount++
	v.State = StateReset

	if initCoproc != nil {
		initCoproc(v)
	}

	v.log.Debug("vcpu init", "id", v.ID, "model", modelID, "reset_count", v.ResetCount)

	return nil
}

// Deinit tears down coproc state first, then zeroes the user frame and releases the private
// frame.
func (v *VCPU) Deinit() {
	if v.IsNormal && v.private != nil {
		if v.private.Coproc != nil {
			v.private.Coproc.Teardown()
		}

		v.private = nil
	}

	v.User = UserFrame{}
	v.State = StateHalted
}

// Private returns the vcpu's private register frame. It panics if called on an orphan vcpu: the
// private frame does not exist, and must not be dereferenced, when IsNormal is false.
func (v *VCPU) Private() *PrivateFrame {
	if !v.IsNormal {
		panic("vcpu: private frame accessed on orphan vcpu")
	}

	return v.private
}

// Halt transitions the vcpu to Halted and emits a full register dump. It is a one-way terminal
// transition: the caller must not retry the trap that caused it, and the vcpu stays
// unschedulable until the guest is reset.
func (v *VCPU) Halt(scheduler interface{ Halt(id uint32, reason string) }, reason string) {
	v.log.Error("vcpu halted", "id", v.ID, "reason", reason, "dump", v.Dump())
	v.State = StateHalted

	if scheduler != nil {
		scheduler.Halt(v.ID, reason)
	}
}

// Dump renders a diagnostic pretty-print of the vcpu.
func (v *VCPU) Dump() string {
	s := fmt.Sprintf("VCPU(id:%d guest:%d state:%s normal:%t)\n", v.ID, v.GuestID, v.State, v.IsNormal)
	s += fmt.Sprintf("  PC: %s LR: %s SP: %s\n", v.User.PC(), v.User.LR(), v.User.SP())
	s += fmt.Sprintf("  PSR: %s\n", v.User.PSR)

	for i := R0; i < R8; i++ {
		s += fmt.Sprintf("  r%d: %s\n", i, v.User.GPR[i])
	}

	return s
}

func (v *VCPU) LogValue() log.Value {
	return log.GroupValue(
		log.String("id", fmt.Sprint(v.ID)),
		log.String("state", v.State.String()),
		log.String("pc", v.User.PC().String()),
		log.String("psr", v.User.PSR.String()),
	)
}
