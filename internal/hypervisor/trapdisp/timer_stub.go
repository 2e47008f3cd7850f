package trapdisp

import "github.com/xvisor-project/corehv/internal/hypervisor/vcpu"

// GenericTimer is the arch-timer collaborator, called from the context-switch path only when
// the vcpu's FeatureGenericTimer bit is set.
type GenericTimer interface {
	Save(v *vcpu.VCPU)
	Restore(v *vcpu.VCPU)
	Init(v *vcpu.VCPU)
}

// NoopGenericTimer does nothing; it is the default until a real arch timer package is wired in.
type NoopGenericTimer struct{}

func (NoopGenericTimer) Save(*vcpu.VCPU)    {}
func (NoopGenericTimer) Restore(*vcpu.VCPU) {}
func (NoopGenericTimer) Init(*vcpu.VCPU)    {}

var _ GenericTimer = NoopGenericTimer{}
