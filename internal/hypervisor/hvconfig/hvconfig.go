// Package hvconfig reads guest and vcpu topology -- model id, vcpu count, VTLB size, vector
// base -- from the device-tree collaborator and resolves it into the small, validated schema
// guest.New/guest.AddVCPU consume.
package hvconfig

import (
	"fmt"

	"github.com/xvisor-project/corehv/internal/hypervisor/external"
	"github.com/xvisor-project/corehv/internal/hypervisor/hverrors"
)

// Defaults applied when a device-tree property is absent.
const (
	DefaultVCPUCount = 1
	DefaultVTLBSize  = 32
)

// GuestTopology is the resolved schema for one guest: how many vcpus to create, what CPU model
// each emulates, and the per-vcpu VTLB size.
type GuestTopology struct {
	Path       string // device-tree node path this topology was read from.
	VCPUCount  uint32
	ModelID    string
	VTLBSize   int
	VectorHigh bool
}

// Load reads a guest's topology from dt at the given device-tree path. modelID ("compatible") is
// required; vcpu count, VTLB size and vector-base selection fall back to defaults.
func Load(dt external.DeviceTree, path string) (GuestTopology, error) {
	modelID, ok := dt.LookupString(path, "compatible")
	if !ok {
		return GuestTopology{}, fmt.Errorf("hvconfig: load %s: %w: missing \"compatible\"", path, hverrors.ErrInvalid)
	}

	topo := GuestTopology{
		Path:      path,
		ModelID:   modelID,
		VCPUCount: DefaultVCPUCount,
		VTLBSize:  DefaultVTLBSize,
	}

	if n, ok := dt.LookupU32(path, "vcpu-count"); ok {
		if n == 0 {
			return GuestTopology{}, fmt.Errorf("hvconfig: load %s: %w: vcpu-count must be > 0", path, hverrors.ErrInvalid)
		}

		topo.VCPUCount = n
	}

	if n, ok := dt.LookupU32(path, "vtlb-size"); ok {
		if n == 0 {
			return GuestTopology{}, fmt.Errorf("hvconfig: load %s: %w: vtlb-size must be > 0", path, hverrors.ErrInvalid)
		}

		topo.VTLBSize = int(n)
	}

	if n, ok := dt.LookupU32(path, "vector-base-high"); ok {
		topo.VectorHigh = n != 0
	}

	return topo, nil
}
