package iommu

import (
	"fmt"
	"sync"

	"github.com/xvisor-project/corehv/internal/hypervisor/external"
	"github.com/xvisor-project/corehv/internal/hypervisor/pool"
	"github.com/xvisor-project/corehv/internal/log"
)

type l1Entry struct {
	typ  entryType
	pa   uint32 // valid for entrySection/entryContigSection
	prot Prot
	l2   *l2Table // valid for entryTable
}

type l2Entry struct {
	typ  entryType
	pa   uint32
	prot Prot
}

type l2Table struct {
	handle  pool.Handle
	entries [l2NumEntries]l2Entry
	count   int
}

// Domain is one IOMMU translation domain: its own page-table pool, its L1 table, the config it
// was allocated with, and the TLB-gather contract the caller provided.
type Domain struct {
	mu sync.Mutex

	cfg    Config
	cookie any
	pool   *pool.Pool
	l1     [l1NumEntries]l1Entry

	tlb external.TLBOps
	log *log.Logger
}

// TTBR0 encodes the domain's L1 base with ARMv7 short-descriptor cacheability attributes.
type TTBR0 uint32

const (
	ttbrIRGNBit0 = 1 << 6
	ttbrIRGNBit1 = 1 << 0
	ttbrS        = 1 << 1
	ttbrRGN      = 0b01 << 3 // outer write-back, write-allocate
)

// Alloc validates cfg, constructs the domain, and returns it together with a TTBR0 encoding a
// (zero, in this software model) table base.
func Alloc(cfg Config, cookie any, tlb external.TLBOps) (*Domain, TTBR0, error) {
	if err := cfg.validate(); err != nil {
		return nil, 0, err
	}

	d := &Domain{
		cfg:    cfg,
		cookie: cookie,
		pool:   pool.New(4 * 1024 * 1024),
		tlb:    tlb,
		log:    log.DefaultLogger(),
	}

	ttbr := TTBR0(ttbrRGN | ttbrS | ttbrIRGNBit0 | ttbrIRGNBit1)

	return d, ttbr, nil
}

func (d *Domain) allocL2() (*l2Table, error) {
	h, _, err := d.pool.Alloc(l2TableSize)
	if err != nil {
		return nil, fmt.Errorf("iommu: %w", err)
	}

	return &l2Table{handle: h}, nil
}

func (d *Domain) freeL2(l2 *l2Table) {
	d.pool.Free(l2.handle, l2TableSize)
}

// Cookie returns the opaque caller-supplied cookie this domain was allocated with.
func (d *Domain) Cookie() any { return d.cookie }
