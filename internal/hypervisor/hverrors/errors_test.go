package hverrors_test

import (
	"errors"
	"testing"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// TestFaultFSREncodings: each fault kind has a distinct FS encoding per granularity, chosen
// independently of the instruction/data axis, and WnR is set only for data-side stores.
func TestFaultFSREncodings(t *testing.T) {
	cases := []struct {
		name  string
		fault hverrors.Fault
		want  uint32
	}{
		{"translation section", hverrors.Fault{Kind: hverrors.FaultTranslation}, 0x05},
		{"translation page", hverrors.Fault{Kind: hverrors.FaultTranslation, Page: true}, 0x07},
		{"access section", hverrors.Fault{Kind: hverrors.FaultAccess}, 0x03},
		{"access page", hverrors.Fault{Kind: hverrors.FaultAccess, Page: true}, 0x06},
		{"domain section", hverrors.Fault{Kind: hverrors.FaultDomain}, 0x09},
		{"domain page", hverrors.Fault{Kind: hverrors.FaultDomain, Page: true}, 0x0b},
		{"permission section", hverrors.Fault{Kind: hverrors.FaultPermission}, 0x0d},
		{"permission page", hverrors.Fault{Kind: hverrors.FaultPermission, Page: true}, 0x0f},
		{"translation page prefetch", hverrors.Fault{Kind: hverrors.FaultTranslation, Page: true, Instruction: true}, 0x07},
		{"permission page store", hverrors.Fault{Kind: hverrors.FaultPermission, Page: true, Write: true}, 0x0f | 1<<11},
		{"store on prefetch side ignored", hverrors.Fault{Kind: hverrors.FaultPermission, Instruction: true, Write: true}, 0x0d},
	}

	for _, tc := range cases {
		if got := tc.fault.FSR(); got != tc.want {
			t.Errorf("%s: fsr = %#x, want %#x", tc.name, got, tc.want)
		}
	}
}

func TestFaultMatchesErrFail(t *testing.T) {
	f := &hverrors.Fault{Kind: hverrors.FaultDomain}

	if !errors.Is(f, hverrors.ErrFail) {
		t.Error("fault does not match ErrFail")
	}
}
