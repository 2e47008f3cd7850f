package sysreg_test

import (
	"testing"

	"github.com/xvisor-project/corehv/internal/hypervisor/external"
	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
	"github.com/xvisor-project/corehv/internal/hypervisor/sysreg"
	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
)

func newTestVCPU(t *testing.T, guestIndex uint32) *vcpu.VCPU {
	t.Helper()

	v := vcpu.New(1, 1, true, 0x8000, 0x9000)
	v.GuestIndex = guestIndex

	if err := v.Init("arm,cortex-a9", sysreg.InitFunc("arm,cortex-a9", 8, false)); err != nil {
		t.Fatalf("init: %v", err)
	}

	return v
}

func cp15Of(t *testing.T, v *vcpu.VCPU) *sysreg.CP15 {
	t.Helper()

	cp, ok := v.Private().Coproc.(*sysreg.CP15)
	if !ok {
		t.Fatalf("coproc is %T, want *sysreg.CP15", v.Private().Coproc)
	}

	return cp
}

// TestMPIDRSynthesis: guest index 2 on a V7MP model synthesises 0x80000002; without the V7MP
// feature, MPIDR reads 0.
func TestMPIDRSynthesis(t *testing.T) {
	v := newTestVCPU(t, 2)
	cp := cp15Of(t, v)

	got, ok := cp.Read(0, 5, 0, 0)
	if !ok {
		t.Fatal("read mpidr: not recognised")
	}

	if got != 0x80000002 {
		t.Errorf("mpidr = %#x, want 0x80000002", got)
	}

	uni := vcpu.New(2, 1, true, 0, 0)
	if err := uni.Init("arm,arm926", sysreg.InitFunc("arm,arm926", 8, false)); err != nil {
		t.Fatalf("init: %v", err)
	}

	cpUni := cp15Of(t, uni)

	got, ok = cpUni.Read(0, 5, 0, 0)
	if !ok {
		t.Fatal("read mpidr: not recognised")
	}

	if got != 0 {
		t.Errorf("mpidr (uniprocessor model) = %#x, want 0", got)
	}
}

func TestDecodeUnknownRegisterSignalsBadRegister(t *testing.T) {
	v := newTestVCPU(t, 0)
	cp := cp15Of(t, v)

	if _, ok := cp.Read(7, 7, 11, 11); ok {
		t.Error("read of unassigned register: want ok=false")
	}

	if ok := cp.Write(7, 7, 11, 11, 0); ok {
		t.Error("write of unassigned register: want ok=false")
	}
}

func TestSCTLRRoundTrip(t *testing.T) {
	v := newTestVCPU(t, 0)
	cp := cp15Of(t, v)

	if ok := cp.Write(0, 0, 1, 0, 0x00c50078); !ok {
		t.Fatal("write sctlr: not recognised")
	}

	got, ok := cp.Read(0, 0, 1, 0)
	if !ok {
		t.Fatal("read sctlr: not recognised")
	}

	if got != 0x00c50078 {
		t.Errorf("sctlr = %#x, want 0x00c50078", got)
	}
}

func TestVersionGatedRegisterRAZOnUnsupportedModel(t *testing.T) {
	v := vcpu.New(5, 1, true, 0, 0)
	if err := v.Init("arm,arm926", sysreg.InitFunc("arm,arm926", 8, false)); err != nil {
		t.Fatalf("init: %v", err)
	}

	cp := cp15Of(t, v)

	got, ok := cp.Read(0, 5, 0, 0) // MPIDR, gated on FeatureV7MP; arm926 lacks it.
	if !ok {
		t.Fatal("read mpidr: not recognised")
	}

	if got != 0 {
		t.Errorf("mpidr on v7mp-less model = %#x, want 0 (RAZ)", got)
	}
}

func TestVTLBRefillRoundRobin(t *testing.T) {
	v := newTestVCPU(t, 0)
	cp := cp15Of(t, v)

	vtlb := cp.VTLB()

	size := vtlb.Len()

	for i := 0; i < size; i++ {
		_, hadEvicted := vtlb.Refill(sysreg.VTLBEntry{VA: uint64(i) * 0x1000, PA: uint64(i) * 0x1000, Size: 0x1000})
		if hadEvicted {
			t.Errorf("refill %d: unexpected eviction of an empty slot", i)
		}
	}

	// One more refill should evict the very first entry installed (round-robin wraps).
	evicted, hadEvicted := vtlb.Refill(sysreg.VTLBEntry{VA: 0xdead0000, PA: 0xbeef0000, Size: 0x1000})
	if !hadEvicted {
		t.Fatal("refill past capacity: want an eviction")
	}

	if evicted.VA != 0 {
		t.Errorf("evicted entry va = %#x, want 0 (first-installed)", evicted.VA)
	}
}

func TestVTLBLookup(t *testing.T) {
	v := newTestVCPU(t, 0)
	cp := cp15Of(t, v)
	vtlb := cp.VTLB()

	vtlb.Refill(sysreg.VTLBEntry{VA: 0x40000000, PA: 0x80000000, Size: 0x1000})

	e, ok := vtlb.Lookup(0x40000abc)
	if !ok {
		t.Fatal("lookup: want hit")
	}

	if e.PA != 0x80000000 {
		t.Errorf("lookup pa = %#x, want 0x80000000", e.PA)
	}

	if _, ok := vtlb.Lookup(0x50000000); ok {
		t.Error("lookup outside installed range: want miss")
	}
}

type fakeInjector struct {
	asserted []external.IRQKind
}

func (f *fakeInjector) Assert(vcpuID uint32, kind external.IRQKind, data uint32) {
	f.asserted = append(f.asserted, kind)
}

func TestAssertFaultWritesFSRAndInjects(t *testing.T) {
	v := newTestVCPU(t, 0)
	cp := cp15Of(t, v)

	inj := &fakeInjector{}

	cp.AssertFault(hverrors.Fault{Kind: hverrors.FaultPermission, Addr: 0x1000, Write: true}, inj)

	if cp.DFSR() == 0 {
		t.Error("dfsr not written")
	}

	if cp.DFAR() != 0x1000 {
		t.Errorf("dfar = %#x, want 0x1000", cp.DFAR())
	}

	if len(inj.asserted) != 1 || inj.asserted[0] != external.IRQDataAbort {
		t.Errorf("asserted = %v, want [IRQDataAbort]", inj.asserted)
	}
}

func TestSyncDACRPrivilegedVsUser(t *testing.T) {
	v := newTestVCPU(t, 0)
	cp := cp15Of(t, v)

	cp.SyncDACR(vcpu.ModeSupervisor, nil)

	const domainShift = 0x0f * 2

	if (cp.DACR()>>domainShift)&0b11 != 0b01 {
		t.Errorf("dacr client bits in SVC = %#b, want client(01)", (cp.DACR()>>domainShift)&0b11)
	}

	cp.SyncDACR(vcpu.ModeUser, nil)

	if (cp.DACR()>>domainShift)&0b11 != 0b00 {
		t.Errorf("dacr client bits in USR = %#b, want no-access(00)", (cp.DACR()>>domainShift)&0b11)
	}
}
