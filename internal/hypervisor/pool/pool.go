// Package pool implements the page-table memory pool: a fixed-size, bitmap-tracked arena from
// which L1 and L2 tables are allocated in multiples of a minimum granularity.
package pool

import (
	"fmt"
	"sync"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// MinGranularity is the smallest unit the pool allocates.
const MinGranularity = 1 << 10 // 1 KiB; large enough for an L2 table, a fraction of an L1.

// Handle identifies an allocated block by index rather than pointer, so table records can hold
// weak references into the arena.
type Handle uint32

// Pool is a bitmap-tracked arena of page-table memory, first-fit over contiguous free blocks.
// All mutation is guarded by one mutex.
type Pool struct {
	mu       sync.Mutex
	capacity uint32 // total blocks of MinGranularity size
	used     []bool // true: block is allocated
	mem      []byte // backing storage
}

// New creates a pool spanning size bytes, rounded down to a whole number of MinGranularity
// blocks.
func New(size uint32) *Pool {
	blocks := size / MinGranularity

	return &Pool{
		capacity: blocks,
		used:     make([]bool, blocks),
		mem:      make([]byte, blocks*MinGranularity),
	}
}

// Alloc reserves the smallest first-fit run of contiguous free blocks covering size bytes and
// returns a handle and the zeroed backing slice. It fails with ErrNoMem on exhaustion.
func (p *Pool) Alloc(size uint32) (Handle, []byte, error) {
	blocks := (size + MinGranularity - 1) / MinGranularity
	if blocks == 0 {
		return 0, nil, fmt.Errorf("pool: alloc: %w: zero size", hverrors.ErrInvalid)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	run := uint32(0)
	start := uint32(0)

	for i := uint32(0); i < p.capacity; i++ {
		if p.used[i] {
			run = 0
			continue
		}

		if run == 0 {
			start = i
		}

		run++

		if run == blocks {
			for b := start; b < start+blocks; b++ {
				p.used[b] = true
			}

			region := p.mem[start*MinGranularity : (start+blocks)*MinGranularity]
			for i := range region {
				region[i] = 0
			}

			return Handle(start), region, nil
		}
	}

	return 0, nil, fmt.Errorf("pool: alloc: %d bytes: %w", size, hverrors.ErrNoMem)
}

// Free returns a previously allocated run of blocks to the pool and zeroes its memory.
func (p *Pool) Free(h Handle, size uint32) {
	blocks := (size + MinGranularity - 1) / MinGranularity

	p.mu.Lock()
	defer p.mu.Unlock()

	start := uint32(h)
	for b := start; b < start+blocks && b < p.capacity; b++ {
		p.used[b] = false
	}

	region := p.mem[start*MinGranularity : (start+blocks)*MinGranularity]
	for i := range region {
		region[i] = 0
	}
}

// Bytes returns the backing slice for a handle without checking allocation state; callers that
// hold a valid Handle from Alloc may use this to re-acquire a []byte view after a Free/Alloc
// cycle invalidated an earlier slice header.
func (p *Pool) Bytes(h Handle, size uint32) []byte {
	blocks := (size + MinGranularity - 1) / MinGranularity
	start := uint32(h)

	return p.mem[start*MinGranularity : (start+blocks)*MinGranularity]
}

// FreeBlocks returns the number of free blocks, for diagnostics.
func (p *Pool) FreeBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0

	for _, used := range p.used {
		if !used {
			n++
		}
	}

	return n
}
