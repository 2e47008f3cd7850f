package trapdisp

import "github.com/xvisor-project/corehv/internal/hypervisor/vcpu"

// VGIC is the virtual-interrupt-controller collaborator called from the context-switch path.
// The controller itself lives outside this module; this package only owns the seam that calls
// it at the right points.
type VGIC interface {
	Save(v *vcpu.VCPU)
	Restore(v *vcpu.VCPU)
	Cleanup(v *vcpu.VCPU)
}

// NoopVGIC is a VGIC that does nothing. It is the default when a build has no virtual interrupt
// controller wired in yet, and is what the package's tests use to exercise ContextSwitch without
// a real vGIC.
type NoopVGIC struct{}

func (NoopVGIC) Save(*vcpu.VCPU)    {}
func (NoopVGIC) Restore(*vcpu.VCPU) {}
func (NoopVGIC) Cleanup(*vcpu.VCPU) {}

var _ VGIC = NoopVGIC{}
