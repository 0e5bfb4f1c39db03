package evpn

// Config holds the EVPN core settings shared by the driver and its managers.
type Config struct {
	// EvpnBridge is the Linux bridge carrying EVPN VNI devices.
	EvpnBridge string `mapstructure:"evpn_bridge"`

	// EvpnBridgeVeth is the veth endpoint on the EVPN bridge side.
	EvpnBridgeVeth string `mapstructure:"evpn_bridge_veth"`

	// EvpnOvsVeth is the veth endpoint on the OVS bridge side.
	EvpnOvsVeth string `mapstructure:"evpn_ovs_veth"`

	// OvsBridge is the OVS integration bridge.
	OvsBridge string `mapstructure:"ovs_bridge"`

	// UDPDstPort is the VXLAN encapsulation destination port.
	UDPDstPort int `mapstructure:"evpn_udp_dstport"`

	// VlanRangeMin and VlanRangeMax bound the bridge VLAN allocation space.
	VlanRangeMin int `mapstructure:"evpn_vlan_range_min"`
	VlanRangeMax int `mapstructure:"evpn_vlan_range_max"`

	// StaticFdb and StaticNeighbors gate FDB/neighbor pre-population.
	StaticFdb       bool `mapstructure:"evpn_static_fdb"`
	StaticNeighbors bool `mapstructure:"evpn_static_neighbors"`

	// DeleteVrfOnDisconnect removes the kernel VRF device when its last
	// network detaches. Off by default: FRR may still reference it.
	DeleteVrfOnDisconnect bool `mapstructure:"delete_vrf_on_disconnect"`

	// ExposeTenantNetworks also reacts to tenant VM port bindings.
	ExposeTenantNetworks bool `mapstructure:"expose_tenant_networks"`

	// BgpAS is the default AS for VRF BGP instances.
	BgpAS string `mapstructure:"bgp_as"`

	// BgpRouterID overrides the router id used for VRF route leaking.
	// Discovered from FRR when empty.
	BgpRouterID string `mapstructure:"bgp_router_id"`
}

// DefaultConfig returns the default EVPN core configuration.
func DefaultConfig() Config {
	return Config{
		EvpnBridge:      "br-evpn",
		EvpnBridgeVeth:  "veth-to-ovs",
		EvpnOvsVeth:     "veth-to-evpn",
		OvsBridge:       "br-int",
		UDPDstPort:      4789,
		VlanRangeMin:    100,
		VlanRangeMax:    4094,
		StaticFdb:       true,
		StaticNeighbors: true,
		BgpAS:           "64999",
	}
}
