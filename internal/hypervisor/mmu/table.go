package mmu

import "github.com/xvisor-project/corehv/internal/hypervisor/pool"

// l1Entry is one slot of an L1 table: either a fault, a pointer to an attached L2 (EntryTable),
// or a section/supersection leaf.
type l1Entry struct {
	typ   EntryType
	child *l2TableRef // non-nil only when typ == EntryTable
	page  Page        // valid only for EntrySection/EntrySuperSection
}

// l2TableRef is the weak back-reference an L1 slot holds to its attached L2. The L2Table itself,
// reached through L1Table.l2tbls, is the owning record; the ref carries only the pool handle so
// detaching is "write a FAULT descriptor and drop the ref".
type l2TableRef struct {
	handle pool.Handle
}

// L2Table is a second-level translation table: 256 small-page-sized slots, a parent L1 (if
// attached) and a parent slot index.
type L2Table struct {
	Phys   uint64
	Virt   uint64
	handle pool.Handle

	parent     *L1Table
	parentSlot int // -1 if detached
	domain     uint8
	imp        uint32

	tteCount int
	entries  [l2NumEntries]l2Entry
}

type l2Entry struct {
	typ  EntryType
	page Page
}

// L1Table is a first-level translation table: 4096 1 MiB slots, a list of attached L2s and
// counts kept consistent with the actual descriptors at every observable quiescent point.
type L1Table struct {
	Phys   uint64
	Virt   uint64
	handle pool.Handle

	l2tbls  []*L2Table // attached L2s; order is insertion order, not architectural.
	tteCnt  int
	l2Cnt   int
	entries [l1NumEntries]l1Entry
}

// TTECount returns the number of valid top-level descriptors.
func (l1 *L1Table) TTECount() int { return l1.tteCnt }

// L2TableCount returns the number of attached L2 tables.
func (l1 *L1Table) L2TableCount() int { return l1.l2Cnt }

// TTECount returns the number of valid descriptors in this L2.
func (l2 *L2Table) TTECount() int { return l2.tteCount }

// Attached returns true if this L2 is currently attached to a parent L1 slot.
func (l2 *L2Table) Attached() bool { return l2.parent != nil }
