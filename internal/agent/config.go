package agent

import (
	"fmt"
	"time"

	"ovn-evpn-agent/pkg/evpn"
)

// Exposing methods supported by this driver.
const (
	ExposingMethodVRF     = "vrf"
	ExposingMethodDynamic = "dynamic"
)

// MTU bounds enforced on network_device_mtu.
const (
	minMTU = 68
	maxMTU = 9000
)

// Config holds the agent configuration.
type Config struct {
	// OvnSBConnection is the OVN Southbound OVSDB endpoint. When empty it
	// is discovered from the local OVS (external_ids:ovn-remote).
	OvnSBConnection string `mapstructure:"ovn_sb_connection"`

	// OvsdbConnectionTimeout bounds southbound transactions.
	OvsdbConnectionTimeout time.Duration `mapstructure:"ovsdb_connection_timeout"`

	// ReconcileInterval is the period of the full sync worker.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// FrrReconcileInterval is the period of the FRR resync worker.
	FrrReconcileInterval time.Duration `mapstructure:"frr_reconcile_interval"`

	// EvpnLocalIP pins the VTEP address. Auto-discovered when empty.
	EvpnLocalIP string `mapstructure:"evpn_local_ip"`

	// EvpnNIC names the interface to take the VTEP address from.
	EvpnNIC string `mapstructure:"evpn_nic"`

	// NetworkDeviceMTU is the default MTU for EVPN devices.
	NetworkDeviceMTU int `mapstructure:"network_device_mtu"`

	// ExposingMethod selects the wiring mode; this driver supports vrf
	// and dynamic.
	ExposingMethod string `mapstructure:"exposing_method"`

	// ClearVrfRoutesOnStartup flushes the BGP VRF table during start.
	ClearVrfRoutesOnStartup bool `mapstructure:"clear_vrf_routes_on_startup"`

	// BgpVrfTableID is the routing table flushed on startup.
	BgpVrfTableID int `mapstructure:"bgp_vrf_table_id"`

	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Empty disables the listener.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Evpn is the EVPN core configuration, flattened into the same
	// option namespace.
	Evpn evpn.Config `mapstructure:",squash"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		OvsdbConnectionTimeout: 180 * time.Second,
		ReconcileInterval:      300 * time.Second,
		FrrReconcileInterval:   15 * time.Second,
		NetworkDeviceMTU:       1500,
		ExposingMethod:         ExposingMethodVRF,
		BgpVrfTableID:          10,
		MetricsAddr:            "127.0.0.1:9469",
		Evpn:                   evpn.DefaultConfig(),
	}
}

// Validate rejects configurations the agent cannot start with.
func (c *Config) Validate() error {
	if c.ExposingMethod != ExposingMethodVRF && c.ExposingMethod != ExposingMethodDynamic {
		return fmt.Errorf("%w: exposing_method %q", ErrConfigInvalid, c.ExposingMethod)
	}

	if c.NetworkDeviceMTU < minMTU {
		c.NetworkDeviceMTU = minMTU
	}
	if c.NetworkDeviceMTU > maxMTU {
		c.NetworkDeviceMTU = maxMTU
	}

	if c.Evpn.VlanRangeMin < 1 || c.Evpn.VlanRangeMax > 4094 ||
		c.Evpn.VlanRangeMin >= c.Evpn.VlanRangeMax {
		return fmt.Errorf("%w: vlan range [%d, %d]", ErrConfigInvalid,
			c.Evpn.VlanRangeMin, c.Evpn.VlanRangeMax)
	}

	if c.ReconcileInterval <= 0 || c.FrrReconcileInterval <= 0 {
		return fmt.Errorf("%w: reconcile intervals must be positive", ErrConfigInvalid)
	}
	return nil
}
