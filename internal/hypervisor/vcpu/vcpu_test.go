package vcpu_test

import (
	"testing"

	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
)

func newTestVCPU(t *testing.T) *vcpu.VCPU {
	t.Helper()

	v := vcpu.New(1, 1, true, 0x8000, 0x9000)

	if err := v.Init("arm,cortex-a9", nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	return v
}

// TestModeRoundTrip writes sp in Supervisor mode, switches to IRQ, writes a different sp,
// switches back, and confirms both banks held their own values.
func TestModeRoundTrip(t *testing.T) {
	v := newTestVCPU(t)

	v.RegWrite(vcpu.SP, 0xAAAA)

	if err := v.CPSRUpdate(vcpu.PSR(vcpu.ModeIRQ), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
		t.Fatalf("cpsr_update(irq): %v", err)
	}

	v.RegWrite(vcpu.SP, 0xBBBB)

	if err := v.CPSRUpdate(vcpu.PSR(vcpu.ModeSupervisor), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
		t.Fatalf("cpsr_update(svc): %v", err)
	}

	if got := v.RegRead(vcpu.SP); got != 0xAAAA {
		t.Errorf("sp_svc = %s, want 0xaaaa", got)
	}

	if got := v.RegModeRead(vcpu.ModeIRQ, vcpu.SP); got != 0xBBBB {
		t.Errorf("sp_irq = %s, want 0xbbbb", got)
	}
}

// TestBankedRoundTripProperty: for every mode pair, a round trip through another mode preserves
// the banked sp/lr values written in the first mode.
func TestBankedRoundTripProperty(t *testing.T) {
	modes := []vcpu.Mode{vcpu.ModeSupervisor, vcpu.ModeAbort, vcpu.ModeUndef, vcpu.ModeIRQ, vcpu.ModeFIQ, vcpu.ModeMonitor}

	for _, m := range modes {
		for _, n := range modes {
			if m == n {
				continue
			}

			v := newTestVCPU(t)

			if err := v.CPSRUpdate(vcpu.PSR(m), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
				t.Fatalf("cpsr_update(%s): %v", m, err)
			}

			v.RegWrite(vcpu.SP, 0x1111)
			v.RegWrite(vcpu.LR, 0x2222)

			if err := v.CPSRUpdate(vcpu.PSR(n), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
				t.Fatalf("cpsr_update(%s): %v", n, err)
			}

			if err := v.CPSRUpdate(vcpu.PSR(m), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
				t.Fatalf("cpsr_update(%s): %v", m, err)
			}

			if got := v.RegRead(vcpu.SP); got != 0x1111 {
				t.Errorf("mode %s->%s->%s: sp = %s, want 0x1111", m, n, m, got)
			}

			if got := v.RegRead(vcpu.LR); got != 0x2222 {
				t.Errorf("mode %s->%s->%s: lr = %s, want 0x2222", m, n, m, got)
			}
		}
	}
}

// TestSPSRSurvivesModeRoundTrip: the SPSR written in one mode must still be there after
// switching away and back, since a CPSR write changes no SPSR.
func TestSPSRSurvivesModeRoundTrip(t *testing.T) {
	v := newTestVCPU(t)

	if err := v.SPSRUpdate(0xf0000093, vcpu.FullMask); err != nil {
		t.Fatalf("spsr_update: %v", err)
	}

	if err := v.CPSRUpdate(vcpu.PSR(vcpu.ModeIRQ), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
		t.Fatalf("cpsr_update(irq): %v", err)
	}

	if err := v.CPSRUpdate(vcpu.PSR(vcpu.ModeSupervisor), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
		t.Fatalf("cpsr_update(svc): %v", err)
	}

	got, err := v.SPSRRetrieve()
	if err != nil {
		t.Fatalf("spsr_retrieve: %v", err)
	}

	if got != vcpu.PSR(0xf0000093)&vcpu.FullMask {
		t.Errorf("spsr_svc after round trip = %s, want %#x", got, uint32(vcpu.PSR(0xf0000093)&vcpu.FullMask))
	}
}

// TestCPSRMaskDiscipline: bits outside the mask are untouched; bits inside equal new & mask.
func TestCPSRMaskDiscipline(t *testing.T) {
	v := newTestVCPU(t)

	before := v.CPSRRetrieve()
	mask := vcpu.PSRN | vcpu.PSRZ

	if err := v.CPSRUpdate(vcpu.PSRN, mask, nil); err != nil {
		t.Fatalf("cpsr_update: %v", err)
	}

	after := v.CPSRRetrieve()

	if after&^mask != before&^mask {
		t.Errorf("bits outside mask changed: before=%s after=%s", before, after)
	}

	if after&mask != vcpu.PSRN&mask {
		t.Errorf("bits inside mask = %#x, want %#x", uint32(after&mask), uint32(vcpu.PSRN&mask))
	}
}

// TestSPSRDenialFromUser: updating SPSR from User mode fails and no SPSR slot changes.
func TestSPSRDenialFromUser(t *testing.T) {
	v := vcpu.New(2, 1, true, 0, 0)

	if err := v.Init("arm,cortex-a9", nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	if v.User.PSR.Mode() != vcpu.ModeSupervisor {
		t.Fatalf("reset mode = %s, want SVC", v.User.PSR.Mode())
	}

	if err := v.CPSRUpdate(vcpu.PSR(vcpu.ModeUser), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
		t.Fatalf("cpsr_update(usr): %v", err)
	}

	err := v.SPSRUpdate(0xffffffff, vcpu.FullMask)
	if err == nil {
		t.Fatal("spsr_update from User mode: want error, got nil")
	}

	for _, m := range []vcpu.Mode{vcpu.ModeFIQ, vcpu.ModeIRQ, vcpu.ModeSupervisor, vcpu.ModeAbort, vcpu.ModeUndef, vcpu.ModeMonitor} {
		if err := v.CPSRUpdate(vcpu.PSR(m), vcpu.PSR(vcpu.ModeMask), nil); err != nil {
			t.Fatalf("cpsr_update(%s): %v", m, err)
		}

		if got, err := v.SPSRRetrieve(); err != nil || got != 0 {
			t.Errorf("spsr_%s disturbed by rejected spsr_update: %s (err %v)", m, got, err)
		}
	}
}

func TestCPSRUpdateUnknownMode(t *testing.T) {
	v := newTestVCPU(t)

	err := v.CPSRUpdate(0x09, vcpu.PSR(vcpu.ModeMask), nil)
	if err == nil {
		t.Fatal("cpsr_update with unknown mode: want error, got nil")
	}
}

func TestOrphanHasNoPrivateFrame(t *testing.T) {
	v := vcpu.New(3, 0, false, 0x1000, 0x2000)
	if err := v.Init("arm,cortex-a9", nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Private() on orphan vcpu: want panic, got none")
		}
	}()

	_ = v.Private()
}

// TestSaveLayoutOffsetsDistinct: every exported trampoline offset names a distinct slot.
func TestSaveLayoutOffsetsDistinct(t *testing.T) {
	offs := []uintptr{
		vcpu.OffSPUsr, vcpu.OffLRUsr,
		vcpu.OffSPFiq, vcpu.OffLRFiq,
		vcpu.OffSPIrq, vcpu.OffLRIrq,
		vcpu.OffSPSvc, vcpu.OffLRSvc,
		vcpu.OffSPAbt, vcpu.OffLRAbt,
		vcpu.OffSPUnd, vcpu.OffLRUnd,
		vcpu.OffSPMon, vcpu.OffLRMon,
		vcpu.OffSPSRFiq, vcpu.OffSPSRIrq, vcpu.OffSPSRSvc,
		vcpu.OffSPSRAbt, vcpu.OffSPSRUnd, vcpu.OffSPSRMon,
	}

	seen := map[uintptr]bool{}
	for i, off := range offs {
		if seen[off] {
			t.Errorf("offset %d (=%#x) duplicated", i, off)
		}

		seen[off] = true
	}
}
