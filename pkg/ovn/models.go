// Package ovn provides the OVN Southbound database client and the EVPN
// query helpers built on top of it.
package ovn

import "github.com/ovn-org/libovsdb/model"

// EVPN attribute keys on Port_Binding external_ids. A port is EVPN-enabled
// iff both the VNI and the AS key are set.
const (
	VniExtIDKey                 = "neutron_bgpvpn:vni"
	ASExtIDKey                  = "neutron_bgpvpn:as"
	TypeExtIDKey                = "neutron_bgpvpn:type"
	RouteTargetsExtIDKey        = "neutron_bgpvpn:route_targets"
	RouteDistinguishersExtIDKey = "neutron_bgpvpn:rds"
	ImportTargetsExtIDKey       = "neutron_bgpvpn:import_targets"
	ExportTargetsExtIDKey       = "neutron_bgpvpn:export_targets"
	LocalPrefExtIDKey           = "neutron_bgpvpn:local_pref"
	RoutesExtIDKey              = "neutron_bgpvpn:routes"

	// MTUExtIDKey is set by neutron on Datapath_Binding.
	MTUExtIDKey = "neutron:mtu"
)

// Port_Binding types the agent cares about.
const (
	PortTypeVM              = ""
	PortTypePatch           = "patch"
	PortTypeLocalnet        = "localnet"
	PortTypeChassisRedirect = "chassisredirect"
	PortTypeVirtual         = "virtual"
)

// PortBinding is a row of the OVN Southbound Port_Binding table.
type PortBinding struct {
	UUID          string            `ovsdb:"_uuid"`
	LogicalPort   string            `ovsdb:"logical_port"`
	Type          string            `ovsdb:"type"`
	Datapath      string            `ovsdb:"datapath"`
	TunnelKey     int               `ovsdb:"tunnel_key"`
	MAC           []string          `ovsdb:"mac"`
	NATAddresses  []string          `ovsdb:"nat_addresses"`
	Chassis       *string           `ovsdb:"chassis"`
	Up            *bool             `ovsdb:"up"`
	VirtualParent *string           `ovsdb:"virtual_parent"`
	ParentPort    *string           `ovsdb:"parent_port"`
	Tag           *int              `ovsdb:"tag"`
	Options       map[string]string `ovsdb:"options"`
	ExternalIDs   map[string]string `ovsdb:"external_ids"`
}

// DatapathBinding is a row of the Datapath_Binding table. Its UUID is the
// network identifier used throughout the agent.
type DatapathBinding struct {
	UUID        string            `ovsdb:"_uuid"`
	TunnelKey   int               `ovsdb:"tunnel_key"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// Chassis is a row of the Chassis table.
type Chassis struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Hostname    string            `ovsdb:"hostname"`
	Encaps      []string          `ovsdb:"encaps"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
	OtherConfig map[string]string `ovsdb:"other_config"`
}

// ChassisPrivate is a row of the Chassis_Private table.
type ChassisPrivate struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Chassis     *string           `ovsdb:"chassis"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// LoadBalancer is a row of the Load_Balancer table.
type LoadBalancer struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	VIPs        map[string]string `ovsdb:"vips"`
	Protocol    *string           `ovsdb:"protocol"`
	Datapaths   []string          `ovsdb:"datapaths"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// SBModel builds the client database model for the Southbound tables the
// agent monitors.
func SBModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel("OVN_Southbound", map[string]model.Model{
		"Port_Binding":     &PortBinding{},
		"Datapath_Binding": &DatapathBinding{},
		"Chassis":          &Chassis{},
		"Chassis_Private":  &ChassisPrivate{},
		"Load_Balancer":    &LoadBalancer{},
	})
}

// HasEvpnConfig reports whether the port binding carries both EVPN keys.
func (p *PortBinding) HasEvpnConfig() bool {
	return p.ExternalIDs[VniExtIDKey] != "" && p.ExternalIDs[ASExtIDKey] != ""
}
