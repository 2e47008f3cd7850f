package mmu

import (
	"fmt"
	"sync"

	"github.com/xvisor-project/corehv/internal/hypervisor/pool"
	"github.com/xvisor-project/corehv/internal/log"
)

// Core owns the page-table pool, the system-wide default L1, and the list of active per-guest
// L1s. The default L1 and active-L1 list are guarded by one rwlock; the pool has its own
// internal lock (see internal/hypervisor/pool).
type Core struct {
	pool *pool.Pool

	mu        sync.RWMutex
	defaultL1 *L1Table
	activeL1s []*L1Table
	currentL1 *L1Table // the L1 last installed via ChangeTTBR; nil until the first switch.

	// freeL2 is the detached-L2 free list consulted before reaching into the pool.
	freeL2 []*L2Table

	reserved []Page // pages installed via MapReservedPage, replayed onto every new L1.

	tlbOps TLBOps

	log *log.Logger
}

// TLBOps is the hardware TLB-invalidation hook UnmapPage calls when the affected L1 is the one
// currently loaded via ChangeTTBR. The core never issues the invalidation itself.
type TLBOps struct {
	InvalidateLine func(va uint64, size uint32)
}

// SetTLBOps installs the hardware TLB-invalidation hook UnmapPage consults. Left unset, UnmapPage
// never calls out, matching a build with no hardware TLB to manage.
func (c *Core) SetTLBOps(ops TLBOps) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tlbOps = ops
}

// New creates an MMU core with a pool of the given size and constructs the default L1, the
// template holding the hypervisor's own code/data mapping plus the interrupt-vector page from
// which every per-guest L1 is cloned.
func New(poolSize uint32) (*Core, error) {
	c := &Core{
		pool: pool.New(poolSize),
		log:  log.DefaultLogger(),
	}

	l1, err := c.newL1Table()
	if err != nil {
		return nil, fmt.Errorf("mmu: new: %w", err)
	}

	c.defaultL1 = l1

	return c, nil
}

func (c *Core) newL1Table() (*L1Table, error) {
	h, mem, err := c.pool.Alloc(L1TableSize)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	_ = mem // backing storage tracked by handle; entries live in the Go struct, not raw bytes.

	return &L1Table{handle: h}, nil
}

// L2Alloc returns a zeroed, detached L2. A detached L2 from the free list is reused before a
// fresh region is allocated from the pool.
func (c *Core) L2Alloc() (*L2Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.allocL2Locked()
}

// L2Free detaches l2 from its parent (if attached), removes it from the free list (if resting
// there), and returns its memory to the pool. This is the teardown path; an L2 merely emptied by
// UnmapPage goes to the free list instead, keeping its pool blocks.
func (c *Core) L2Free(l2 *L2Table) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detachL2Locked(l2)

	for i, free := range c.freeL2 {
		if free == l2 {
			c.freeL2 = append(c.freeL2[:i], c.freeL2[i+1:]...)
			break
		}
	}

	c.pool.Free(l2.handle, L2TableSize)
}

// L2Attach installs an L2TBL descriptor for va into l1. The L1 slot for va must be FAULT.
func (c *Core) L2Attach(l1 *L1Table, l2 *L2Table, imp uint32, dom uint8, va uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attachL2Locked(l1, l2, imp, dom, va)
}

// L2Detach zeroes the parent slot, decrements counters, re-homes the L2 to the free list and
// zeroes its memory.
func (c *Core) L2Detach(l2 *L2Table) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detachL2Locked(l2)
	c.freeL2 = append(c.freeL2, zeroedDetachedL2(l2))
}

// L1Alloc allocates an L1 and deep-copies the default L1 into it, including cloned L2s (fresh L2
// storage, copied descriptors, re-attached), then adds it to the active list.
func (c *Core) L1Alloc() (*L1Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l1, err := c.newL1Table()
	if err != nil {
		return nil, fmt.Errorf("mmu: l1tbl_alloc: %w", err)
	}

	l1.entries = c.defaultL1.entries
	l1.tteCnt = c.defaultL1.tteCnt

	for _, srcL2 := range c.defaultL1.l2tbls {
		// allocL2Locked, not L2Alloc: c.mu is already held for the whole clone operation.
		dstL2, err := c.allocL2Locked()
		if err != nil {
			return nil, fmt.Errorf("mmu: l1tbl_alloc: clone l2: %w", err)
		}

		dstL2.entries = srcL2.entries
		dstL2.tteCount = srcL2.tteCount

		idx := uint32(srcL2.parentSlot)

		dstL2.parent = l1
		dstL2.parentSlot = int(idx)
		dstL2.imp = srcL2.imp
		dstL2.domain = srcL2.domain

		l1.entries[idx] = l1Entry{typ: EntryTable, child: &l2TableRef{handle: dstL2.handle}}
		l1.l2tbls = append(l1.l2tbls, dstL2)
		l1.l2Cnt++
	}

	c.activeL1s = append(c.activeL1s, l1)

	return l1, nil
}

// ChangeTTBR flushes the (virtual) TLB and records l1 as the current translation table, so a
// later UnmapPage on this l1 knows to invalidate the matching TLB line.
func (c *Core) ChangeTTBR(l1 *L1Table, flushTLB func()) {
	c.mu.Lock()
	c.currentL1 = l1
	c.mu.Unlock()

	if flushTLB != nil {
		flushTLB()
	}

	c.cacheClean()
}

// CurrentL1 returns the L1 table last installed via ChangeTTBR, or nil if none has been yet.
func (c *Core) CurrentL1() *L1Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.currentL1
}

// cacheClean is a stub; a hardware backend would flush D-cache lines covering the new TTBR here.
func (c *Core) cacheClean() {}

// DefaultL1 returns the system-wide default L1 table.
func (c *Core) DefaultL1() *L1Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.defaultL1
}

// ActiveL1s returns a snapshot of the currently active per-guest L1 tables.
func (c *Core) ActiveL1s() []*L1Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*L1Table, len(c.activeL1s))
	copy(out, c.activeL1s)

	return out
}
