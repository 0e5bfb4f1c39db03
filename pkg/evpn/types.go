// Package evpn implements the EVPN reconciliation core: VLAN allocation,
// FDB/neighbor seeding, network infrastructure lifecycle and the driver
// that ties OVN events to the data plane.
package evpn

import "fmt"

// EVPN types. L3 is the default; L2 additionally wires the network into OVS
// through a per-network internal port.
const (
	TypeL2 = "l2"
	TypeL3 = "l3"
)

// Device name prefixes on the host. They are the contract the orphan
// collector relies on.
const (
	VxlanPrefix        = "vxlan-"
	VrfPrefix          = "vrf-"
	InternalPortPrefix = "evpn-"
)

// routeTableOffset places VRF routing tables far above the reserved range.
const routeTableOffset = 1_000_000

// maxDeviceNameLen is the kernel IFNAMSIZ limit (15 plus NUL).
const maxDeviceNameLen = 15

// VxlanName returns the VXLAN device name for a VNI.
func VxlanName(vni uint32) string {
	return fmt.Sprintf("%s%d", VxlanPrefix, vni)
}

// VrfName returns the VRF device name for a VNI.
func VrfName(vni uint32) string {
	return fmt.Sprintf("%s%d", VrfPrefix, vni)
}

// InternalPortName returns the OVS internal port name for a VNI, truncated
// to the kernel device name limit.
func InternalPortName(vni uint32) string {
	name := fmt.Sprintf("%s%d", InternalPortPrefix, vni)
	if len(name) > maxDeviceNameLen {
		name = name[:maxDeviceNameLen]
	}
	return name
}

// IrbName returns the bridge VLAN sub-interface name.
func IrbName(bridge string, vlan int) string {
	return fmt.Sprintf("%s.%d", bridge, vlan)
}

// RouteTableID returns the kernel routing table id of a VRF.
func RouteTableID(vni uint32) int {
	return int(vni) + routeTableOffset
}

// NetworkInfo describes one tenant network and its EVPN parameters as
// derived from OVN.
type NetworkInfo struct {
	// ID is the OVN datapath UUID.
	ID string

	VNI  uint32
	Type string

	// VlanID is the bridge VLAN chosen by the allocator.
	VlanID int

	// OvnVlan is the OVN-internal VLAN tag, resolved lazily for L2
	// networks when the internal port is created.
	OvnVlan int

	BgpAS               string
	RouteTargets        []string
	RouteDistinguishers []string
	ImportTargets       []string
	ExportTargets       []string
	LocalPref           int
	MTU                 int
}

// IsL2 reports whether the network uses symmetric IRB with an OVS-side
// internal port.
func (n *NetworkInfo) IsL2() bool {
	return n.Type == TypeL2
}

// VRFInfo tracks one kernel VRF and the networks attached to it.
type VRFInfo struct {
	Name    string
	VNI     uint32
	TableID int

	// Networks is the set of network ids attached to this VRF. The VRF is
	// torn down when it empties.
	Networks map[string]struct{}
}

// PortRecord tracks one exposed logical port.
type PortRecord struct {
	LogicalPort string
	MAC         string
	IPs         []string
	NetworkID   string
	VlanID      int
}
