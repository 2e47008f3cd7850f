package sysreg

// VTLBEntry is a cached stage-1 mapping: the guest-page record plus a valid flag.
type VTLBEntry struct {
	Valid  bool
	VA     uint64
	PA     uint64
	Size   uint32
	AP     uint8
	Domain uint8
	ASID   uint8
	// NoExec marks a region the emulator must install with XN set (device/virtual regions never
	// host guest code).
	NoExec bool
}

// VTLB is the bounded, per-vcpu round-robin cache of recently-installed stage-1 mappings used
// to accelerate the refill path for guests running with their MMU disabled.
type VTLB struct {
	entries []VTLBEntry
	victim  int
}

func newVTLB(size int) *VTLB {
	if size <= 0 {
		size = 32
	}

	return &VTLB{entries: make([]VTLBEntry, size)}
}

func (t *VTLB) reset() {
	for i := range t.entries {
		t.entries[i] = VTLBEntry{}
	}

	t.victim = 0
}

// Lookup returns the entry covering va, if any is currently valid.
func (t *VTLB) Lookup(va uint64) (VTLBEntry, bool) {
	for _, e := range t.entries {
		if !e.Valid {
			continue
		}

		base := va &^ (uint64(e.Size) - 1)
		if e.VA == base {
			return e, true
		}
	}

	return VTLBEntry{}, false
}

// Refill evicts the round-robin victim slot, installs the new entry, advances the victim index
// modulo the table size, and returns the evicted entry so the caller can unmap its previous
// backing from the vcpu's L1 (that requires the mmu package, which this one never imports).
func (t *VTLB) Refill(entry VTLBEntry) (evicted VTLBEntry, hadEvicted bool) {
	evicted = t.entries[t.victim]
	hadEvicted = evicted.Valid

	entry.Valid = true
	t.entries[t.victim] = entry

	t.victim = (t.victim + 1) % len(t.entries)

	return evicted, hadEvicted
}

// Len reports the configured VTLB size, used by tests asserting the round-robin period.
func (t *VTLB) Len() int { return len(t.entries) }
