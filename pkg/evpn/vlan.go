package evpn

import (
	"go.uber.org/zap"
)

// VlanStats is a snapshot of allocator counters.
type VlanStats struct {
	TotalAllocated int
	FreeVlans      int
	Allocations    uint64
	Releases       uint64
	Conflicts      uint64
}

// VlanAllocator maps networks onto the bridge VLAN space. The mapping is a
// bijection: no two networks share a VLAN, and every allocation is
// reversible. Nothing is persisted; the mapping is rebuilt from OVN on sync.
//
// The allocator is not safe for concurrent use on its own; callers hold the
// driver's evpn mutex.
type VlanAllocator struct {
	logger *zap.Logger

	min int
	max int

	networkToVlan map[string]int
	vlanToNetwork map[int]string
	free          map[int]struct{}

	allocations uint64
	releases    uint64
	conflicts   uint64
}

// NewVlanAllocator creates an allocator over the inclusive range [min, max].
func NewVlanAllocator(min, max int, logger *zap.Logger) *VlanAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}

	free := make(map[int]struct{}, max-min+1)
	for vlan := min; vlan <= max; vlan++ {
		free[vlan] = struct{}{}
	}

	return &VlanAllocator{
		logger:        logger,
		min:           min,
		max:           max,
		networkToVlan: make(map[string]int),
		vlanToNetwork: make(map[int]string),
		free:          free,
	}
}

// Allocate returns the bridge VLAN for a network, preferring VLAN == VNI
// when the VNI fits the range and the slot is free. Re-allocating a known
// network returns its existing VLAN without side effects.
func (a *VlanAllocator) Allocate(networkID string, vni uint32) (int, error) {
	if vlan, ok := a.networkToVlan[networkID]; ok {
		return vlan, nil
	}

	var vlan int
	candidate := int(vni)
	if candidate >= a.min && candidate <= a.max {
		if _, free := a.free[candidate]; free {
			vlan = candidate
		} else {
			a.conflicts++
			var err error
			if vlan, err = a.probe(vni); err != nil {
				return 0, err
			}
			a.logger.Debug("preferred vlan occupied",
				zap.Uint32("vni", vni),
				zap.Int("vlan", vlan),
			)
		}
	} else {
		var err error
		if vlan, err = a.probe(vni); err != nil {
			return 0, err
		}
	}

	a.networkToVlan[networkID] = vlan
	a.vlanToNetwork[vlan] = networkID
	delete(a.free, vlan)
	a.allocations++

	a.logger.Info("allocated bridge vlan",
		zap.String("network_id", networkID),
		zap.Uint32("vni", vni),
		zap.Int("vlan", vlan),
	)
	return vlan, nil
}

// probe walks ((vni + k) mod range) + min until a free slot is found.
func (a *VlanAllocator) probe(vni uint32) (int, error) {
	if len(a.free) == 0 {
		return 0, ErrVlanExhausted
	}

	vlanRange := a.max - a.min + 1
	for offset := 0; offset < vlanRange; offset++ {
		candidate := (int(vni)+offset)%vlanRange + a.min
		if _, free := a.free[candidate]; free {
			return candidate, nil
		}
	}
	return 0, ErrVlanExhausted
}

// Release returns a network's VLAN to the pool. Unknown networks are a no-op.
func (a *VlanAllocator) Release(networkID string) {
	vlan, ok := a.networkToVlan[networkID]
	if !ok {
		return
	}

	delete(a.networkToVlan, networkID)
	delete(a.vlanToNetwork, vlan)
	a.free[vlan] = struct{}{}
	a.releases++

	a.logger.Info("released bridge vlan",
		zap.String("network_id", networkID),
		zap.Int("vlan", vlan),
	)
}

// Lookup returns the VLAN allocated to a network, if any.
func (a *VlanAllocator) Lookup(networkID string) (int, bool) {
	vlan, ok := a.networkToVlan[networkID]
	return vlan, ok
}

// CleanupStale releases every allocation whose network is not in the active
// set and returns how many were released.
func (a *VlanAllocator) CleanupStale(active map[string]struct{}) int {
	var stale []string
	for networkID := range a.networkToVlan {
		if _, ok := active[networkID]; !ok {
			stale = append(stale, networkID)
		}
	}

	if len(stale) > 0 {
		a.logger.Warn("releasing stale vlan allocations", zap.Int("count", len(stale)))
		for _, networkID := range stale {
			a.Release(networkID)
		}
	}
	return len(stale)
}

// Stats returns a snapshot of the allocator counters.
func (a *VlanAllocator) Stats() VlanStats {
	return VlanStats{
		TotalAllocated: len(a.networkToVlan),
		FreeVlans:      len(a.free),
		Allocations:    a.allocations,
		Releases:       a.releases,
		Conflicts:      a.conflicts,
	}
}
