package sysreg

import "github.com/xvisor-project/corehv/internal/hypervisor/vcpu"

// regKey identifies a coprocessor register by its four-field address.
type regKey struct {
	Opc1, Opc2, CRn, CRm uint8
}

// regClass names the register class a decode entry belongs to, for diagnostics.
type regClass uint8

const (
	classID regClass = iota
	classControl
	classTranslation
	classDomain
	classFault
	classFaultAddr
	classCacheOps
	classTLBControl
	classCacheLockdown
	classProcessID
	classImplDefined
)

// regOp is one entry of the decode table: Read/Write operate on the shadow state directly.
// feature gates version-specific registers: on a vcpu lacking the feature, reads return 0 and
// writes are ignored instead of faulting.
type regOp struct {
	class   regClass
	read    func(c *CP15) uint32
	write   func(c *CP15, val uint32)
	feature vcpu.Feature // 0: always available
}

// decodeTable maps (opc1,opc2,CRn,CRm) to its accessor pair. Registers not listed here (and not
// covered by the whole-CRn rules in Read/Write) are undefined from the guest's point of view.
var decodeTable = map[regKey]regOp{
	{0, 0, 0, 0}: {class: classID, read: func(c *CP15) uint32 { return c.midr }},
	{0, 1, 0, 0}: {class: classID, read: func(c *CP15) uint32 { return c.cacheType }},
	{0, 2, 0, 0}: {class: classID, read: func(c *CP15) uint32 { return c.tcmType }},
	{0, 3, 0, 0}: {class: classID, read: func(c *CP15) uint32 { return c.tlbType }},
	{0, 5, 0, 0}: {class: classID, read: func(c *CP15) uint32 { return c.mpidr }, feature: vcpu.FeatureV7MP},
	{0, 0, 0, 1}: {class: classID, read: func(c *CP15) uint32 { return c.idPFR0 }},
	{0, 1, 0, 1}: {class: classID, read: func(c *CP15) uint32 { return c.idPFR1 }},
	{0, 4, 0, 1}: {class: classID, read: func(c *CP15) uint32 { return c.idMMFR0 }},

	{0, 0, 1, 0}: {
		class: classControl,
		read:  func(c *CP15) uint32 { return c.sctlr },
		write: func(c *CP15, val uint32) { c.sctlr = val; c.vect.SetBase(val&sctlrV != 0) },
	},
	{0, 1, 1, 0}: {
		class: classControl,
		read:  func(c *CP15) uint32 { return c.actlr },
		write: func(c *CP15, val uint32) { c.actlr = val },
	},
	{0, 2, 1, 0}: {
		class: classControl,
		read:  func(c *CP15) uint32 { return c.cpacr },
		write: func(c *CP15, val uint32) { c.cpacr = val },
	},

	{0, 0, 2, 0}: {
		class: classTranslation,
		read:  func(c *CP15) uint32 { return c.ttbr0 },
		write: func(c *CP15, val uint32) { c.ttbr0 = val & c.ttbr0Mask },
	},
	{0, 1, 2, 0}: {
		class: classTranslation,
		read:  func(c *CP15) uint32 { return c.ttbr1 },
		write: func(c *CP15, val uint32) { c.ttbr1 = val },
	},
	{0, 2, 2, 0}: {
		class: classTranslation,
		read:  func(c *CP15) uint32 { return c.ttbcr },
		write: func(c *CP15, val uint32) { c.ttbcr = val; c.ttbr0Mask = ttbr0MaskFromTTBCR(val) },
	},

	{0, 0, 3, 0}: {
		class: classDomain,
		read:  func(c *CP15) uint32 { return c.dacr },
		write: func(c *CP15, val uint32) { c.dacr = val },
	},

	{0, 0, 5, 0}: {
		class: classFault,
		read:  func(c *CP15) uint32 { return c.dfsr },
		write: func(c *CP15, val uint32) { c.dfsr = val },
	},
	{0, 0, 5, 1}: {
		class: classFault,
		read:  func(c *CP15) uint32 { return c.ifsr },
		write: func(c *CP15, val uint32) { c.ifsr = val },
	},

	{0, 0, 6, 0}: {
		class: classFaultAddr,
		read:  func(c *CP15) uint32 { return c.dfar },
		write: func(c *CP15, val uint32) { c.dfar = val },
	},
	{0, 2, 6, 0}: {
		class: classFaultAddr,
		read:  func(c *CP15) uint32 { return c.ifar },
		write: func(c *CP15, val uint32) { c.ifar = val },
	},
	{0, 1, 6, 0}: {
		class:   classFaultAddr,
		read:    func(c *CP15) uint32 { return c.wfar },
		write:   func(c *CP15, val uint32) { c.wfar = val },
		feature: vcpu.FeatureV6,
	},

	{0, 0, 7, 4}: {
		class: classCacheOps,
		read:  func(c *CP15) uint32 { return c.par },
		write: func(c *CP15, val uint32) { c.par = val },
	},

	{0, 0, 9, 0}: {
		class: classCacheLockdown,
		read:  func(c *CP15) uint32 { return c.l1CacheLockdown },
		write: func(c *CP15, val uint32) { c.l1CacheLockdown = val },
	},

	{0, 0, 13, 0}: {
		class: classProcessID,
		read:  func(c *CP15) uint32 { return c.fcseidr },
		write: func(c *CP15, val uint32) { c.fcseidr = val },
	},
	{0, 1, 13, 0}: {
		class: classProcessID,
		read:  func(c *CP15) uint32 { return c.contextidr },
		write: func(c *CP15, val uint32) { c.contextidr = val },
	},
}

// ttbr0MaskFromTTBCR recomputes the mask of TTBR0 bits on a TTBCR write: the low N bits of TTBCR
// select how many low address bits TTBR0 does NOT translate (the boundary with TTBR1), per the
// short-descriptor "N" field.
func ttbr0MaskFromTTBCR(ttbcr uint32) uint32 {
	n := ttbcr & 0x7
	if n == 0 {
		return 0xffffc000 // default: 14-bit-aligned TTBR0, TTBR1 disabled.
	}

	return 0xffffffff << (14 - n)
}

// Read services a guest coprocessor-register read from the shadow state. ok is false for an
// unrecognised register; the trap dispatcher converts that into an injected Undefined
// Instruction exception, never an error code the guest can see. A register gated by a feature
// bit this vcpu lacks reads as zero (RAZ) rather than faulting, as does the
// implementation-defined CRn 15 space.
func (c *CP15) Read(opc1, opc2, crn, crm uint8) (val uint32, ok bool) {
	if crn == 15 {
		return 0, true // implementation-defined space: RAZ
	}

	op, found := decodeTable[regKey{opc1, opc2, crn, crm}]
	if !found || op.read == nil {
		return 0, false
	}

	if op.feature != 0 && !c.v.Features.Has(op.feature) {
		return 0, true
	}

	return op.read(c), true
}

// Write services a guest coprocessor-register write. CRn 15 is implementation-defined RAZ/WI;
// CRn 7 cache maintenance, CRn 8 TLB control, CRn 9 opc1 1 L2 cache lockdown and CRn 10 TLB
// lockdown are accepted as no-ops (the shadow MMU has no hardware TLB or cache behind it, and the
// PAR read under CRn 7 is the one exception carried in the table).
func (c *CP15) Write(opc1, opc2, crn, crm uint8, val uint32) (ok bool) {
	if crn == 15 {
		return true // RAZ/WI
	}

	if crn == 7 {
		// Cache maintenance is a no-op; the VA-to-PA ops under CRm 8 deposit a flat translation
		// of the operand in PAR, which the guest reads back through the table entry above.
		if crm == 8 {
			c.par = val &^ 0xfff
		}

		return true
	}

	if crn == 8 || crn == 10 || (crn == 9 && opc1 == 1) {
		return true
	}

	op, found := decodeTable[regKey{opc1, opc2, crn, crm}]
	if !found || op.write == nil {
		return false
	}

	if op.feature != 0 && !c.v.Features.Has(op.feature) {
		return true // version-gated register the guest CPU lacks: ignore the write.
	}

	op.write(c, val)

	return true
}
