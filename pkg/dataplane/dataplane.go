// Package dataplane programs the Linux kernel network data plane (bridges,
// VRFs, VXLAN tunnels, bridge VLANs, FDB and neighbor tables) via netlink.
package dataplane

import "net"

// EnsureResult reports whether an idempotent ensure operation created the
// resource or found it already in place.
type EnsureResult int

const (
	// Created means the resource did not exist and was created.
	Created EnsureResult = iota

	// AlreadyExisted means the resource was already present.
	AlreadyExisted
)

// String returns a human-readable form for logging.
func (r EnsureResult) String() string {
	if r == Created {
		return "created"
	}
	return "already existed"
}

// Dataplane defines the kernel operations the EVPN core consumes.
// Ensure operations are idempotent: an existing resource is reported as
// AlreadyExisted, never as an error. Delete operations treat a missing
// resource as success.
type Dataplane interface {
	// EnsureBridge creates a VLAN-filtering Linux bridge with default PVID 1.
	EnsureBridge(name string) (EnsureResult, error)

	// EnsureVeth creates a veth pair.
	EnsureVeth(name, peer string) (EnsureResult, error)

	// EnsureVRF creates a VRF device bound to the given routing table.
	EnsureVRF(name string, table uint32) (EnsureResult, error)

	// EnsureVXLAN creates a VXLAN device with the given VNI, local tunnel
	// endpoint and UDP destination port.
	EnsureVXLAN(name string, vni uint32, local net.IP, dstPort int) (EnsureResult, error)

	// EnsureVlanDevice creates the 802.1q sub-interface <parent>.<vlan>.
	EnsureVlanDevice(parent string, vlan int) (EnsureResult, error)

	// DeleteDevice removes a device; a missing device is success.
	DeleteDevice(name string) error

	// LinkExists reports whether a device with the given name exists.
	LinkExists(name string) (bool, error)

	// LinkNames lists the names of all network devices on the host.
	LinkNames() ([]string, error)

	SetUp(name string) error
	SetMTU(name string, mtu int) error

	// SetMaster enslaves dev to master (a bridge or VRF device).
	SetMaster(dev, master string) error

	// SetNoMaster releases dev from its master.
	SetNoMaster(dev string) error

	// SetLearning toggles MAC learning on a bridge port.
	SetLearning(dev string, enable bool) error

	// SetNeighSuppress toggles ARP/ND suppression on a bridge port.
	SetNeighSuppress(dev string, enable bool) error

	// EnsureBridgeVlan adds a VLAN to a bridge port's filter. With pvid and
	// untagged both false the VLAN is tagged on the port.
	EnsureBridgeVlan(dev string, vlan int, pvid, untagged bool) error

	// EnsureAddress adds an IP address in CIDR form to a device.
	EnsureAddress(dev, cidr string) (EnsureResult, error)

	// EnsureFDBEntry installs a static bridge FDB entry for mac on the
	// given bridge port and VLAN.
	EnsureFDBEntry(mac net.HardwareAddr, dev string, vlan int) (EnsureResult, error)

	// EnsureNeighbor installs a permanent neighbor (ARP/NDP) entry.
	EnsureNeighbor(ip net.IP, mac net.HardwareAddr, dev string) (EnsureResult, error)

	// EnsureRoute inserts a route into the given kernel routing table.
	EnsureRoute(dst *net.IPNet, gw net.IP, table int) (EnsureResult, error)

	// FlushRoutes removes all routes from the given routing table.
	FlushRoutes(table int) error

	EnableProxyARP(dev string) error
	EnableProxyNDP(dev string) error

	// InterfaceAddrs returns the IP addresses configured on a device.
	InterfaceAddrs(name string) ([]net.IP, error)
}
