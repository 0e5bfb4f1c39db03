package evpn

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ovn-evpn-agent/pkg/dataplane"
	"ovn-evpn-agent/pkg/frr"
)

// OvsPorter is the OVS surface the network manager needs for L2 internal
// ports.
type OvsPorter interface {
	EnsureInternalPort(bridge, port string) error
	SetPortTag(port string, tag int) error
	DeletePort(bridge, port string) error
}

// FrrConfigurer applies VRF and base EVPN configuration to FRR.
type FrrConfigurer interface {
	AddVrf(cfg frr.VrfConfig) error
	DelVrf(cfg frr.VrfConfig) error
	LeakVrf(vrfName, bgpAS, routerID string) error
	EnsureBaseConfig() error
}

// OvnResolver answers the OVN queries needed while building infrastructure.
type OvnResolver interface {
	OvnVlanTag(ctx context.Context, networkID string) (int, error)
	GatewayIPs(ctx context.Context, networkID string) []string
}

type resourceKind int

const (
	resourceVRF resourceKind = iota
	resourceVXLAN
	resourceIRB
	resourceInternalPort
)

type createdResource struct {
	kind resourceKind
	name string
}

// NetworkManager owns the per-network VRF / VXLAN / IRB / internal-port
// topology. Every resource created by EnsureInfrastructure is registered
// for rollback before the next one is attempted, so a partial failure
// leaves nothing behind.
//
// Callers hold the driver's evpn mutex.
type NetworkManager struct {
	cfg      Config
	dp       dataplane.Dataplane
	ovs      OvsPorter
	frr      FrrConfigurer
	resolver OvnResolver
	logger   *zap.Logger

	vrfs map[string]*VRFInfo
}

// NewNetworkManager creates a network infrastructure manager.
func NewNetworkManager(cfg Config, dp dataplane.Dataplane, ovs OvsPorter, frrc FrrConfigurer, resolver OvnResolver, logger *zap.Logger) *NetworkManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkManager{
		cfg:      cfg,
		dp:       dp,
		ovs:      ovs,
		frr:      frrc,
		resolver: resolver,
		logger:   logger,
		vrfs:     make(map[string]*VRFInfo),
	}
}

// VRFs returns the tracked VRF records.
func (m *NetworkManager) VRFs() map[string]*VRFInfo {
	return m.vrfs
}

// EnsureInfrastructure creates the network's resource set in order: VRF,
// VXLAN, IRB, internal port (L2 only), FRR. On failure all resources
// created by this call are destroyed in reverse order and the error wraps
// ErrResourceBuild.
func (m *NetworkManager) EnsureInfrastructure(ctx context.Context, n *NetworkInfo, localIP net.IP) error {
	m.logger.Info("ensuring network infrastructure",
		zap.String("network_id", n.ID),
		zap.Uint32("vni", n.VNI),
		zap.Int("bridge_vlan", n.VlanID),
		zap.String("type", n.Type),
	)

	var created []createdResource
	vrfName := VrfName(n.VNI)
	_, hadVRF := m.vrfs[vrfName]

	if err := m.ensure(ctx, n, localIP, vrfName, &created); err != nil {
		m.rollback(created, n, vrfName, hadVRF)
		return fmt.Errorf("network %s: %w: %w", n.ID, ErrResourceBuild, err)
	}
	return nil
}

func (m *NetworkManager) ensure(ctx context.Context, n *NetworkInfo, localIP net.IP, vrfName string, created *[]createdResource) error {
	// 1. VRF
	vrf, ok := m.vrfs[vrfName]
	if !ok {
		tableID := RouteTableID(n.VNI)
		res, err := m.dp.EnsureVRF(vrfName, uint32(tableID))
		if err != nil {
			return err
		}
		if res == dataplane.Created {
			*created = append(*created, createdResource{resourceVRF, vrfName})
		}
		if err := m.dp.SetUp(vrfName); err != nil {
			return err
		}

		vrf = &VRFInfo{
			Name:     vrfName,
			VNI:      n.VNI,
			TableID:  tableID,
			Networks: make(map[string]struct{}),
		}
		m.vrfs[vrfName] = vrf
	}
	vrf.Networks[n.ID] = struct{}{}

	// 2. VXLAN
	vxlanName := VxlanName(n.VNI)
	res, err := m.dp.EnsureVXLAN(vxlanName, n.VNI, localIP, m.cfg.UDPDstPort)
	if err != nil {
		return err
	}
	if res == dataplane.Created {
		*created = append(*created, createdResource{resourceVXLAN, vxlanName})
	}

	if err := m.dp.SetMTU(vxlanName, n.MTU); err != nil {
		return err
	}
	if err := m.dp.SetMaster(vxlanName, m.cfg.EvpnBridge); err != nil {
		return err
	}
	// EVPN owns the FDB; the kernel must not learn on the tunnel port.
	if err := m.dp.SetLearning(vxlanName, false); err != nil {
		return err
	}
	if err := m.dp.SetNeighSuppress(vxlanName, true); err != nil {
		return err
	}
	if err := m.dp.SetUp(vxlanName); err != nil {
		return err
	}
	if err := m.dp.EnsureBridgeVlan(vxlanName, n.VlanID, false, false); err != nil {
		return err
	}
	if err := m.dp.EnsureBridgeVlan(m.cfg.EvpnBridgeVeth, n.VlanID, false, false); err != nil {
		return err
	}

	// 3. IRB
	res, err = m.dp.EnsureVlanDevice(m.cfg.EvpnBridge, n.VlanID)
	if err != nil {
		return err
	}
	irbName := IrbName(m.cfg.EvpnBridge, n.VlanID)
	if res == dataplane.Created {
		*created = append(*created, createdResource{resourceIRB, irbName})
	}

	if err := m.dp.SetMTU(irbName, n.MTU); err != nil {
		return err
	}
	if err := m.dp.SetMaster(irbName, vrfName); err != nil {
		return err
	}
	if err := m.dp.SetUp(irbName); err != nil {
		return err
	}
	if err := m.dp.EnableProxyARP(irbName); err != nil {
		return err
	}
	if err := m.dp.EnableProxyNDP(irbName); err != nil {
		return err
	}
	for _, gateway := range m.resolver.GatewayIPs(ctx, n.ID) {
		if _, err := m.dp.EnsureAddress(irbName, gateway); err != nil {
			m.logger.Warn("failed to add gateway address",
				zap.String("device", irbName),
				zap.String("address", gateway),
				zap.Error(err),
			)
		}
	}

	// 4. Internal port (L2 only)
	if n.IsL2() {
		if err := m.ensureInternalPort(ctx, n, created); err != nil {
			return err
		}
	}

	// 5. FRR
	if err := m.frr.AddVrf(m.vrfConfig(n, vrfName, localIP)); err != nil {
		return err
	}
	if n.VNI == 0 {
		if err := m.frr.LeakVrf(vrfName, n.BgpAS, m.cfg.BgpRouterID); err != nil {
			return err
		}
	}
	return nil
}

func (m *NetworkManager) ensureInternalPort(ctx context.Context, n *NetworkInfo, created *[]createdResource) error {
	ovnVlan, err := m.resolver.OvnVlanTag(ctx, n.ID)
	if err != nil {
		return err
	}
	n.OvnVlan = ovnVlan

	portName := InternalPortName(n.VNI)
	m.logger.Info("creating internal port",
		zap.String("port", portName),
		zap.Int("ovn_vlan", ovnVlan),
		zap.Int("bridge_vlan", n.VlanID),
	)

	if err := m.ovs.EnsureInternalPort(m.cfg.OvsBridge, portName); err != nil {
		return err
	}
	*created = append(*created, createdResource{resourceInternalPort, portName})

	// The OVS tag is the OVN-internal VLAN, not the bridge VLAN.
	if err := m.ovs.SetPortTag(portName, ovnVlan); err != nil {
		return err
	}
	if err := m.dp.SetUp(portName); err != nil {
		return err
	}
	if err := m.dp.SetMTU(portName, n.MTU); err != nil {
		return err
	}
	if err := m.dp.SetMaster(portName, m.cfg.EvpnBridge); err != nil {
		return err
	}
	if err := m.dp.EnsureBridgeVlan(portName, n.VlanID, true, true); err != nil {
		return err
	}
	return m.dp.SetLearning(portName, true)
}

func (m *NetworkManager) vrfConfig(n *NetworkInfo, vrfName string, localIP net.IP) frr.VrfConfig {
	return frr.VrfConfig{
		VrfName:             vrfName,
		VNI:                 n.VNI,
		BgpAS:               n.BgpAS,
		RouteTargets:        n.RouteTargets,
		RouteDistinguishers: n.RouteDistinguishers,
		ImportTargets:       n.ImportTargets,
		ExportTargets:       n.ExportTargets,
		LocalIP:             localIP.String(),
		LocalPref:           n.LocalPref,
	}
}

// rollback destroys the resources of a failed ensure in reverse creation
// order, best effort.
func (m *NetworkManager) rollback(created []createdResource, n *NetworkInfo, vrfName string, hadVRF bool) {
	m.logger.Warn("rolling back network infrastructure",
		zap.String("network_id", n.ID),
		zap.Int("resources", len(created)),
	)

	var errs error
	for i := len(created) - 1; i >= 0; i-- {
		res := created[i]
		switch res.kind {
		case resourceInternalPort:
			errs = multierr.Append(errs, m.ovs.DeletePort(m.cfg.OvsBridge, res.name))
			errs = multierr.Append(errs, m.dp.DeleteDevice(res.name))
		default:
			errs = multierr.Append(errs, m.dp.DeleteDevice(res.name))
		}
	}
	if errs != nil {
		m.logger.Error("rollback left resources behind", zap.Error(errs))
	}

	if vrf, ok := m.vrfs[vrfName]; ok {
		if hadVRF {
			delete(vrf.Networks, n.ID)
		} else {
			delete(m.vrfs, vrfName)
		}
	}
}

// CleanupInfrastructure destroys the network's resources in reverse order
// (IRB, VXLAN, internal port), then detaches it from its VRF. When the VRF
// empties its FRR configuration is removed and, if configured, the kernel
// device deleted.
func (m *NetworkManager) CleanupInfrastructure(ctx context.Context, n *NetworkInfo) error {
	m.logger.Info("cleaning up network infrastructure",
		zap.String("network_id", n.ID),
		zap.Uint32("vni", n.VNI),
	)

	var errs error

	irbName := IrbName(m.cfg.EvpnBridge, n.VlanID)
	errs = multierr.Append(errs, m.dp.DeleteDevice(irbName))
	errs = multierr.Append(errs, m.dp.DeleteDevice(VxlanName(n.VNI)))

	if n.IsL2() {
		errs = multierr.Append(errs, m.CleanupInternalPort(InternalPortName(n.VNI)))
	}

	vrfName := VrfName(n.VNI)
	if vrf, ok := m.vrfs[vrfName]; ok {
		delete(vrf.Networks, n.ID)
		if len(vrf.Networks) == 0 {
			errs = multierr.Append(errs, m.releaseVRF(n, vrfName))
		}
	}

	if errs != nil {
		m.logger.Warn("cleanup finished with errors",
			zap.String("network_id", n.ID),
			zap.Error(errs),
		)
	}
	return errs
}

func (m *NetworkManager) releaseVRF(n *NetworkInfo, vrfName string) error {
	m.logger.Info("deleting vrf, no more networks", zap.String("vrf", vrfName))

	var errs error
	errs = multierr.Append(errs, m.frr.DelVrf(frr.VrfConfig{
		VrfName:   vrfName,
		VNI:       n.VNI,
		BgpAS:     n.BgpAS,
		LocalPref: n.LocalPref,
	}))
	if m.cfg.DeleteVrfOnDisconnect {
		errs = multierr.Append(errs, m.dp.DeleteDevice(vrfName))
	}
	delete(m.vrfs, vrfName)
	return errs
}

// CleanupInternalPort removes an internal port from OVS and the kernel.
// Also used by the sync loop for orphaned evpn- ports.
func (m *NetworkManager) CleanupInternalPort(portName string) error {
	var errs error
	errs = multierr.Append(errs, m.dp.SetNoMaster(portName))
	errs = multierr.Append(errs, m.ovs.DeletePort(m.cfg.OvsBridge, portName))
	errs = multierr.Append(errs, m.dp.DeleteDevice(portName))
	return errs
}

// PruneStale drops network ids that are no longer live from every VRF
// record and tears down VRFs that end up empty. Used by the full sync.
func (m *NetworkManager) PruneStale(active map[string]struct{}) {
	for vrfName, vrf := range m.vrfs {
		for networkID := range vrf.Networks {
			if _, ok := active[networkID]; !ok {
				delete(vrf.Networks, networkID)
			}
		}
		if len(vrf.Networks) == 0 {
			m.logger.Info("removing empty vrf after sync", zap.String("vrf", vrfName))
			stub := &NetworkInfo{VNI: vrf.VNI, BgpAS: m.cfg.BgpAS}
			if err := m.releaseVRF(stub, vrfName); err != nil {
				m.logger.Warn("failed to remove vrf", zap.String("vrf", vrfName), zap.Error(err))
			}
		}
	}
}
