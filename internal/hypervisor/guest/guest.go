// Package guest implements the guest record: the owner of a set of VCPUs and the single stage-2
// translation table they share, and the composition root the other core packages (vcpu, mmu,
// sysreg, trapdisp) are exercised through.
package guest

import (
	"fmt"
	"sync"

	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
	"github.com/xvisor-project/corehv/internal/hypervisor/mmu"
	"github.com/xvisor-project/corehv/internal/hypervisor/sysreg"
	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
	"github.com/xvisor-project/corehv/internal/log"
)

// Guest owns a set of VCPUs and a single stage-2 translation table, plus a lock protecting that
// table. Lifecycle is tied to user command: New on guest creation, Destroy on guest
// destruction.
type Guest struct {
	ID uint32

	mmu *mmu.Core

	mu     sync.Mutex // guards stage2 and vcpu bookkeeping below.
	stage2 *mmu.L1Table
	vcpus  []*vcpu.VCPU
	nextID uint32

	log *log.Logger
}

// New creates a guest with a fresh stage-2 table cloned from mmuCore's default L1.
func New(id uint32, mmuCore *mmu.Core) (*Guest, error) {
	stage2, err := mmuCore.L1Alloc()
	if err != nil {
		return nil, fmt.Errorf("guest: new: %w", err)
	}

	return &Guest{
		ID:     id,
		mmu:    mmuCore,
		stage2: stage2,
		log:    log.DefaultLogger(),
	}, nil
}

// Stage2 returns the guest's stage-2 translation table. Callers must hold Lock/Unlock around
// any sequence of mutations that must appear atomic.
func (g *Guest) Stage2() *mmu.L1Table {
	return g.stage2
}

// Lock and Unlock guard the stage-2 table across multi-operation sequences.
func (g *Guest) Lock()   { g.mu.Lock() }
func (g *Guest) Unlock() { g.mu.Unlock() }

// AddVCPU constructs, initialises and registers a new vcpu under this guest. isNormal
// distinguishes a guest vcpu from an orphan/hypervisor worker context; orphans never get a cp15
// shadow (initCoproc is only wired in for normal vcpus).
func (g *Guest) AddVCPU(isNormal bool, modelID string, vtlbSize int, hostVectorHigh bool, startPC, startSP vcpu.Register) (*vcpu.VCPU, error) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.mu.Unlock()

	v := vcpu.New(id, g.ID, isNormal, startPC, startSP)
	v.GuestIndex = id

	var initCoproc func(*vcpu.VCPU)
	if isNormal {
		initCoproc = sysreg.InitFunc(modelID, vtlbSize, hostVectorHigh)
	}

	if err := v.Init(modelID, initCoproc); err != nil {
		return nil, fmt.Errorf("guest: add_vcpu: %w", err)
	}

	g.mu.Lock()
	g.vcpus = append(g.vcpus, v)
	g.mu.Unlock()

	g.log.Debug("vcpu added", "guest", g.ID, "vcpu", v.ID, "model", modelID)

	return v, nil
}

// VCPUs returns a snapshot of this guest's vcpu list.
func (g *Guest) VCPUs() []*vcpu.VCPU {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*vcpu.VCPU, len(g.vcpus))
	copy(out, g.vcpus)

	return out
}

// VCPU looks up one of this guest's vcpus by ID.
func (g *Guest) VCPU(id uint32) (*vcpu.VCPU, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, v := range g.vcpus {
		if v.ID == id {
			return v, nil
		}
	}

	return nil, fmt.Errorf("guest: vcpu %d: %w", id, hverrors.ErrNotAvail)
}

// Destroy tears down every vcpu (coproc state first, then the private frame) and releases the
// guest's reference to its stage-2 table. The table itself remains on the MMU core's active-L1
// list; its storage belongs to mmu.Core, not the guest.
func (g *Guest) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, v := range g.vcpus {
		v.Deinit()
	}

	g.vcpus = nil
	g.stage2 = nil

	g.log.Debug("guest destroyed", "guest", g.ID)
}
