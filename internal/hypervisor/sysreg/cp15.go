// Package sysreg implements the coprocessor-15 / system-register trap emulator: the shadow cp15
// state, the data-driven (opc1,opc2,CRn,CRm) register decoder, the per-vcpu virtual TLB,
// vector-table virtualisation, and DACR synchronisation on mode change.
package sysreg

import (
	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
	"github.com/xvisor-project/corehv/internal/log"
)

// CP15 is the per-vcpu shadow coprocessor-15 state. It implements vcpu.Coproc, so a *CP15 can be
// stored in vcpu.PrivateFrame.Coproc without the vcpu package knowing its shape.
type CP15 struct {
	v *vcpu.VCPU

	// ID registers (CRn 0): read-only from the shadow, filled in by the per-model template.
	midr       uint32
	cacheType  uint32
	tcmType    uint32
	tlbType    uint32
	mpidr      uint32
	idPFR0     uint32
	idPFR1     uint32
	idMMFR0    uint32

	// CRn 1: control.
	sctlr uint32
	actlr uint32
	cpacr uint32

	// CRn 2: translation table.
	ttbr0 uint32
	ttbr1 uint32
	ttbcr uint32
	ttbr0Mask uint32 // recomputed on every TTBCR write.

	// CRn 3: domain access control.
	dacr uint32

	// CRn 5: fault status.
	dfsr uint32
	ifsr uint32

	// CRn 6: fault address.
	dfar uint32
	ifar uint32
	wfar uint32 // v6 only

	// CRn 7: cache/address-translation. par holds the result of the last VA->PA op.
	par uint32

	// CRn 9: cache lockdown (L1 shadowed; L2 lockdown ignored).
	l1CacheLockdown uint32

	// CRn 13: process/thread ID.
	fcseidr    uint32
	contextidr uint32

	vtlb *VTLB
	vect *Vector

	modelID        string
	hostVectorHigh bool
	scheduled      bool

	log *log.Logger
}

// model is the per-model ID-register template applied on Reset.
type model struct {
	midr      uint32
	cacheType uint32
	tlbType   uint32
	resetSCTLR uint32
}

var knownModels = map[string]model{
	"arm,cortex-a7": {midr: 0x410fc070, cacheType: 0x8444c004, tlbType: 0x00000000, resetSCTLR: 0x00c50078},
	"arm,cortex-a9": {midr: 0x410fc090, cacheType: 0x82048004, tlbType: 0x00000000, resetSCTLR: 0x00c50078},
	"arm,cortex-a8": {midr: 0x410fc080, cacheType: 0x82048004, tlbType: 0x00000000, resetSCTLR: 0x00c50078},
	"arm,arm1176":   {midr: 0x410fb767, cacheType: 0x1d152152, tlbType: 0x00000000, resetSCTLR: 0x00050078},
	"arm,arm926":    {midr: 0x41069265, cacheType: 0x1d192192, tlbType: 0x00000000, resetSCTLR: 0x00050078},
}

// New creates the shadow cp15 state for a vcpu, to be installed as its Coproc before Reset is
// called (normally from within vcpu.Init's initCoproc callback). hostVectorHigh is the host's
// SCTLR.V at init time, which seeds the guest's vector base.
func New(v *vcpu.VCPU, modelID string, vtlbSize int, hostVectorHigh bool) *CP15 {
	return &CP15{
		v:              v,
		vtlb:           newVTLB(vtlbSize),
		vect:           newVector(),
		modelID:        modelID,
		hostVectorHigh: hostVectorHigh,
		log:            log.DefaultLogger(),
	}
}

// Reset implements vcpu.Coproc: zero the shadow state, apply the per-model ID-register template,
// zero the virtual TLB, and choose the vector base from the host's SCTLR.V at init time.
func (c *CP15) Reset() {
	m, ok := knownModels[c.modelID]
	if !ok {
		m = knownModels["arm,cortex-a9"]
	}

	c.midr = m.midr
	c.cacheType = m.cacheType
	c.tlbType = m.tlbType
	c.sctlr = m.resetSCTLR

	if c.hostVectorHigh {
		c.sctlr |= sctlrV
	}

	c.mpidr = synthesizeMPIDR(c.v)

	c.actlr, c.cpacr = 0, 0
	c.ttbr0, c.ttbr1, c.ttbcr = 0, 0, 0
	c.ttbr0Mask = ttbr0MaskFromTTBCR(0)
	c.dacr = 0
	c.dfsr, c.ifsr, c.dfar, c.ifar, c.wfar = 0, 0, 0, 0, 0
	c.par = 0
	c.l1CacheLockdown = 0
	c.fcseidr, c.contextidr = 0, 0

	c.vtlb.reset()
	c.vect.reset(c.hostVectorHigh)

	c.log.Debug("cp15 reset", "vcpu", c.v.ID, "model", c.modelID, "mpidr", c.mpidr)
}

// Teardown implements vcpu.Coproc. The shadow state has no external resources; this exists to
// satisfy the interface and to log the vcpu's coproc being retired.
func (c *CP15) Teardown() {
	c.log.Debug("cp15 teardown", "vcpu", c.v.ID)
}

// InitFunc builds the initCoproc callback vcpu.Init expects: it constructs this vcpu's cp15
// shadow state, installs it as the private frame's Coproc, and resets it. Callers wire it as
// v.Init(modelID, sysreg.InitFunc(modelID, vtlbSize, hostVectorHigh)).
func InitFunc(modelID string, vtlbSize int, hostVectorHigh bool) func(v *vcpu.VCPU) {
	return func(v *vcpu.VCPU) {
		cp := New(v, modelID, vtlbSize, hostVectorHigh)
		v.Private().Coproc = cp
		cp.Reset()
	}
}

// VTLB returns this vcpu's virtual TLB, used by the MMU refill path and by diagnostics.
func (c *CP15) VTLB() *VTLB { return c.vtlb }

// Vector returns this vcpu's virtualised vector table.
func (c *CP15) Vector() *Vector { return c.vect }

// sctlrV is SCTLR.V, the "high vectors" bit (bit 13).
const sctlrV = 1 << 13

// synthesizeMPIDR fills the multiprocessor-affinity register from the vcpu's per-guest index
// when the emulated CPU has MP extensions. Without the MP feature, MPIDR reads as 0 (a
// uniprocessor implementation never exposes an affinity value).
func synthesizeMPIDR(v *vcpu.VCPU) uint32 {
	if !v.Features.Has(vcpu.FeatureV7MP) {
		return 0
	}

	const mpidrMP = 1 << 31 // bit 31 set on multiprocessing-extensions implementations.

	return mpidrMP | v.GuestIndex
}
