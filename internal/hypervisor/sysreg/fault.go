package sysreg

import (
	"github.com/xvisor-project/corehv/internal/hypervisor/external"
	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// AssertFault builds the architecturally correct FSR value for f, writes it (and the faulting
// address) into the shadow DFSR/DFAR or IFSR/IFAR pair, and injects the corresponding abort into
// the guest via injector, so the guest OS can handle it as a real abort.
func (c *CP15) AssertFault(f hverrors.Fault, injector external.IRQInjector) {
	fsr := f.FSR()

	if f.Instruction {
		c.ifsr = fsr
		c.ifar = uint32(f.Addr)

		if injector != nil {
			injector.Assert(c.v.ID, external.IRQPrefetchAbort, fsr)
		}

		return
	}

	c.dfsr = fsr
	c.dfar = uint32(f.Addr)

	if injector != nil {
		injector.Assert(c.v.ID, external.IRQDataAbort, fsr)
	}
}

// DFSR, IFSR, DFAR, IFAR expose the shadow fault registers for diagnostics and tests.
func (c *CP15) DFSR() uint32 { return c.dfsr }
func (c *CP15) IFSR() uint32 { return c.ifsr }
func (c *CP15) DFAR() uint32 { return c.dfar }
func (c *CP15) IFAR() uint32 { return c.ifar }
