// Package hverrors defines the closed set of error kinds shared by the virtualisation core.
//
// Every subsystem returns one of these sentinels, wrapped with additional context using
// fmt.Errorf's %w verb. Callers use errors.Is to classify a failure rather than switching on a
// concrete type.
package hverrors

import "errors"

var (
	// ErrFail is a generic precondition violation, bad encoding, or corrupted state that does
	// not correspond to a richer kind below.
	ErrFail = errors.New("hv: operation failed")

	// ErrNotAvail is returned when a lookup does not find a page, region or cluster.
	ErrNotAvail = errors.New("hv: not available")

	// ErrInvalid is returned when an argument is out of range: a bad bin number, a zero size, or
	// an unknown mode passed to an emulated system-register write.
	ErrInvalid = errors.New("hv: invalid argument")

	// ErrNoMem is returned when a pool or heap is exhausted.
	ErrNoMem = errors.New("hv: out of memory")

	// ErrNoSpace and ErrIO are reserved for lower layers; the core forwards them unmodified
	// rather than translating them.
	ErrNoSpace = errors.New("hv: no space")
	ErrIO      = errors.New("hv: io error")
)

// FaultKind distinguishes the four architectural fault classes the sysreg emulator translates
// into an FSR encoding.
type FaultKind uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type FaultKind -output strings_gen.go

const (
	FaultTranslation FaultKind = iota
	FaultAccess
	FaultDomain
	FaultPermission
)

// Fault carries the architectural detail needed to inject a guest-visible data or prefetch
// abort: the fault kind, whether it is an instruction (execute) or data access, whether it was
// taken at page or section granularity, and the faulting address. Instruction and Page are
// independent axes: a data abort can be at either granularity and so can a prefetch abort.
type Fault struct {
	Kind        FaultKind
	Instruction bool // true: prefetch/instruction abort; false: data abort
	Page        bool // true: page-granularity fault; false: section granularity
	Addr        uint32
	Write       bool // true if the faulting access was a store
}

func (f *Fault) Error() string {
	kind := "data"
	if f.Instruction {
		kind = "instruction"
	}

	return kind + " abort: " + f.Kind.String()
}

func (f *Fault) Is(target error) bool {
	return target == ErrFail
}

// FS[4:0] encodings for the short-descriptor format (ARMv7-A), one pair per fault kind.
const (
	fsTransSection  uint32 = 0x05
	fsTransPage     uint32 = 0x07
	fsAccessSection uint32 = 0x03
	fsAccessPage    uint32 = 0x06
	fsDomainSection uint32 = 0x09
	fsDomainPage    uint32 = 0x0b
	fsPermSection   uint32 = 0x0d
	fsPermPage      uint32 = 0x0f
)

// FSR encodes the fault as an architectural fault-status-register value for the short-descriptor
// format. Bit 10 and bits [3:0] carry the FS[4:0] encoding; bit 11 (WnR) records the access
// direction for data aborts.
func (f *Fault) FSR() uint32 {
	var fs uint32

	switch f.Kind {
	case FaultTranslation:
		fs = fsTransSection
		if f.Page {
			fs = fsTransPage
		}
	case FaultAccess:
		fs = fsAccessSection
		if f.Page {
			fs = fsAccessPage
		}
	case FaultDomain:
		fs = fsDomainSection
		if f.Page {
			fs = fsDomainPage
		}
	case FaultPermission:
		fs = fsPermSection
		if f.Page {
			fs = fsPermPage
		}
	}

	var fsr uint32
	fsr |= fs & 0x0f
	fsr |= (fs & 0x10) << 6 // FS[4] lives at bit 10

	if !f.Instruction && f.Write {
		fsr |= 1 << 11 // WnR
	}

	return fsr
}
