package evpn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ovn-evpn-agent/pkg/dataplane"
	"ovn-evpn-agent/pkg/frr"
	"ovn-evpn-agent/pkg/ovn"
)

// SBView is the southbound read surface the driver needs.
type SBView interface {
	ListEvpnPortBindings(ctx context.Context) ([]*ovn.PortBinding, error)
	PortBindingsByDatapath(ctx context.Context, datapath string) ([]*ovn.PortBinding, error)
	DatapathByUUID(ctx context.Context, uuid string) (*ovn.DatapathBinding, error)
	ChassisNameByUUID(ctx context.Context, uuid string) (string, error)
}

// HelperView is the slice of the OVN helper the driver itself uses.
type HelperView interface {
	NetworkMTU(dp *ovn.DatapathBinding) int
	ClearVlanCache(networkID string)
}

// Stats is a snapshot of the driver's tracked state.
type Stats struct {
	NetworksL2 int
	NetworksL3 int
	VRFs       int
	Ports      int
	Fdb        int
	Neighbors  int
	Vlan       VlanStats
}

// DriverParams bundles the driver's collaborators.
type DriverParams struct {
	Config      Config
	Chassis     string
	LocalVtepIP net.IP

	SB         SBView
	Helper     HelperView
	NetManager *NetworkManager
	Allocator  *VlanAllocator
	Fdb        *FdbManager
	Frr        FrrConfigurer
	Dataplane  dataplane.Dataplane
	Metrics    *Metrics
	Logger     *zap.Logger
}

// Driver reconciles OVN port-binding state with the local EVPN data plane.
//
// Every public entry point serializes on one mutex (the "evpn" lock); the
// component maps (networks, ports, the allocator, the FDB manager and the
// network manager's VRF records) are only touched under it.
type Driver struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	chassis   string
	localVtep net.IP

	sb        SBView
	helper    HelperView
	netmgr    *NetworkManager
	allocator *VlanAllocator
	fdb       *FdbManager
	frr       FrrConfigurer
	dp        dataplane.Dataplane

	mu       sync.Mutex
	networks map[string]*NetworkInfo
	ports    map[string]*PortRecord

	syncCh chan struct{}
}

// NewDriver creates the EVPN driver.
func NewDriver(p DriverParams) *Driver {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:       p.Config,
		logger:    logger,
		metrics:   p.Metrics,
		chassis:   p.Chassis,
		localVtep: p.LocalVtepIP,
		sb:        p.SB,
		helper:    p.Helper,
		netmgr:    p.NetManager,
		allocator: p.Allocator,
		fdb:       p.Fdb,
		frr:       p.Frr,
		dp:        p.Dataplane,
		networks:  make(map[string]*NetworkInfo),
		ports:     make(map[string]*PortRecord),
		syncCh:    make(chan struct{}, 1),
	}
}

// SyncRequests delivers a tick whenever an event asks for a full sync
// (e.g. localnet port churn).
func (d *Driver) SyncRequests() <-chan struct{} {
	return d.syncCh
}

// RequestSync schedules a full sync without blocking.
func (d *Driver) RequestSync() {
	select {
	case d.syncCh <- struct{}{}:
	default:
	}
}

// HandlePortBinding routes a Port_Binding change to the matching handler.
// It is registered as the southbound client's event callback.
func (d *Driver) HandlePortBinding(event ovn.PortBindingEvent) {
	ctx := context.Background()

	switch event.Op {
	case ovn.PortBindingAdded:
		d.handleAdd(ctx, event.New)
	case ovn.PortBindingDeleted:
		d.handleDelete(ctx, event.Old)
	case ovn.PortBindingUpdated:
		d.handleUpdate(ctx, event.Old, event.New)
	}
}

func (d *Driver) handleAdd(ctx context.Context, pb *ovn.PortBinding) {
	switch pb.Type {
	case ovn.PortTypePatch:
		if pb.HasEvpnConfig() {
			d.ExposeSubnet(ctx, pb)
		}
	case ovn.PortTypeLocalnet:
		d.RequestSync()
	case ovn.PortTypeChassisRedirect:
		if d.isLocalChassis(ctx, pb) {
			d.ExposeIP(ctx, pb, true)
		}
	case ovn.PortTypeVM, ovn.PortTypeVirtual:
		if pb.HasEvpnConfig() {
			d.ExposePortAssociation(ctx, pb)
		} else if d.cfg.ExposeTenantNetworks && d.isLocalChassis(ctx, pb) {
			d.ExposeIP(ctx, pb, false)
		}
	}
}

func (d *Driver) handleDelete(ctx context.Context, pb *ovn.PortBinding) {
	switch pb.Type {
	case ovn.PortTypePatch:
		if pb.HasEvpnConfig() {
			d.WithdrawSubnet(ctx, pb)
		}
	case ovn.PortTypeLocalnet:
		d.RequestSync()
	case ovn.PortTypeChassisRedirect:
		d.WithdrawIP(ctx, pb, true)
	case ovn.PortTypeVM, ovn.PortTypeVirtual:
		if pb.HasEvpnConfig() {
			d.WithdrawPortAssociation(ctx, pb)
		} else {
			d.WithdrawIP(ctx, pb, false)
		}
	}
}

func (d *Driver) handleUpdate(ctx context.Context, oldPB, newPB *ovn.PortBinding) {
	hadEvpn := oldPB.HasEvpnConfig()
	hasEvpn := newPB.HasEvpnConfig()

	switch newPB.Type {
	case ovn.PortTypePatch:
		switch {
		case hasEvpn && !hadEvpn:
			d.ExposeSubnet(ctx, newPB)
		case hadEvpn && !hasEvpn:
			d.WithdrawSubnet(ctx, oldPB)
		}
	case ovn.PortTypeChassisRedirect:
		wasLocal := d.isLocalChassis(ctx, oldPB)
		isLocal := d.isLocalChassis(ctx, newPB)
		switch {
		case isLocal && !wasLocal:
			d.ExposeIP(ctx, newPB, true)
		case wasLocal && !isLocal:
			d.WithdrawIP(ctx, oldPB, true)
		}
	case ovn.PortTypeVM, ovn.PortTypeVirtual:
		switch {
		case hasEvpn && !hadEvpn:
			d.ExposePortAssociation(ctx, newPB)
		case hadEvpn && !hasEvpn:
			d.WithdrawPortAssociation(ctx, oldPB)
		default:
			wasLocal := d.isLocalChassis(ctx, oldPB)
			isLocal := d.isLocalChassis(ctx, newPB)
			switch {
			case isLocal && !wasLocal:
				d.ExposeIP(ctx, newPB, false)
			case wasLocal && !isLocal:
				d.WithdrawIP(ctx, oldPB, false)
			}
		}
	}
}

func (d *Driver) isLocalChassis(ctx context.Context, pb *ovn.PortBinding) bool {
	if pb.Chassis == nil {
		return false
	}
	name, err := d.sb.ChassisNameByUUID(ctx, *pb.Chassis)
	if err != nil {
		d.logger.Debug("failed to resolve chassis",
			zap.String("logical_port", pb.LogicalPort),
			zap.Error(err),
		)
		return false
	}
	return name == d.chassis
}

// ExposeSubnet builds the network for an EVPN-annotated patch port and
// ensures its infrastructure.
func (d *Driver) ExposeSubnet(ctx context.Context, pb *ovn.PortBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("exposing evpn subnet", zap.String("logical_port", pb.LogicalPort))

	if _, err := d.ensureNetworkLocked(ctx, pb); err != nil {
		d.countError()
		d.logger.Error("failed to expose subnet",
			zap.String("logical_port", pb.LogicalPort),
			zap.Error(err),
		)
	}
}

// WithdrawSubnet tears down the network of a patch port whose EVPN
// annotation disappeared.
func (d *Driver) WithdrawSubnet(ctx context.Context, pb *ovn.PortBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	networkID := pb.Datapath
	n, ok := d.networks[networkID]
	if !ok {
		d.logger.Debug("withdraw for untracked network", zap.String("network_id", networkID))
		return
	}

	d.logger.Info("withdrawing evpn subnet",
		zap.String("logical_port", pb.LogicalPort),
		zap.String("network_id", networkID),
	)

	if err := d.netmgr.CleanupInfrastructure(ctx, n); err != nil {
		d.countError()
	}

	d.fdb.CleanupDevice(IrbName(d.cfg.EvpnBridge, n.VlanID))
	d.allocator.Release(networkID)
	d.helper.ClearVlanCache(networkID)
	delete(d.networks, networkID)

	for port, record := range d.ports {
		if record.NetworkID == networkID {
			delete(d.ports, port)
		}
	}
}

// ExposeIP seeds FDB and neighbor state for a port bound to this chassis.
// Chassisredirect (gateway) bindings are a no-op.
func (d *Driver) ExposeIP(ctx context.Context, pb *ovn.PortBinding, crLrp bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if crLrp {
		d.logger.Debug("gateway port bound", zap.String("logical_port", pb.LogicalPort))
		return
	}

	n, ok := d.networks[pb.Datapath]
	if !ok {
		d.logger.Debug("port not on an evpn network", zap.String("logical_port", pb.LogicalPort))
		return
	}

	d.seedPortLocked(pb, n)
}

// WithdrawIP drops the port record. Kernel FDB/neighbor entries are reaped
// by device removal or the next full sync.
func (d *Driver) WithdrawIP(ctx context.Context, pb *ovn.PortBinding, crLrp bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if record, ok := d.ports[pb.LogicalPort]; ok {
		d.logger.Info("withdrawing port",
			zap.String("logical_port", pb.LogicalPort),
			zap.String("mac", record.MAC),
		)
		delete(d.ports, pb.LogicalPort)
	}
}

// ExposeRemoteIP is a no-op: EVPN Type-2 signaling replaces explicit
// remote exposure.
func (d *Driver) ExposeRemoteIP(ips []string, pb *ovn.PortBinding) {
	d.logger.Debug("expose_remote_ip ignored", zap.String("logical_port", pb.LogicalPort))
}

// WithdrawRemoteIP is a no-op, see ExposeRemoteIP.
func (d *Driver) WithdrawRemoteIP(ips []string, pb *ovn.PortBinding) {
	d.logger.Debug("withdraw_remote_ip ignored", zap.String("logical_port", pb.LogicalPort))
}

// ExposePortAssociation handles a VM port carrying its own EVPN annotation,
// including optional custom routes into the VRF table.
func (d *Driver) ExposePortAssociation(ctx context.Context, pb *ovn.PortBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("exposing port association", zap.String("logical_port", pb.LogicalPort))

	n, err := d.ensureNetworkLocked(ctx, pb)
	if err != nil {
		d.countError()
		d.logger.Error("failed to expose port association",
			zap.String("logical_port", pb.LogicalPort),
			zap.Error(err),
		)
		return
	}

	d.seedPortLocked(pb, n)

	routes, err := ovn.ParseRoutes(pb.ExternalIDs)
	if err != nil {
		d.logger.Warn("ignoring malformed port routes",
			zap.String("logical_port", pb.LogicalPort),
			zap.Error(err),
		)
		return
	}
	for _, route := range routes {
		d.addCustomRouteLocked(n, route)
	}
}

// WithdrawPortAssociation drops the port record; infrastructure cleanup is
// left to the next full sync.
func (d *Driver) WithdrawPortAssociation(ctx context.Context, pb *ovn.PortBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ports, pb.LogicalPort)
}

func (d *Driver) addCustomRouteLocked(n *NetworkInfo, route ovn.Route) {
	_, dst, err := net.ParseCIDR(route.Destination)
	if err != nil {
		d.logger.Warn("invalid route destination", zap.String("destination", route.Destination))
		return
	}
	gw := net.ParseIP(route.Nexthop)
	if gw == nil {
		d.logger.Warn("invalid route nexthop", zap.String("nexthop", route.Nexthop))
		return
	}

	table := RouteTableID(n.VNI)
	if _, err := d.dp.EnsureRoute(dst, gw, table); err != nil {
		d.logger.Warn("failed to add custom route",
			zap.String("destination", route.Destination),
			zap.Int("table", table),
			zap.Error(err),
		)
		return
	}
	d.logger.Info("added custom route",
		zap.String("destination", route.Destination),
		zap.String("nexthop", route.Nexthop),
		zap.Int("table", table),
	)
}

// ensureNetworkLocked returns the tracked network for the port's datapath,
// building and wiring it first when unknown.
func (d *Driver) ensureNetworkLocked(ctx context.Context, pb *ovn.PortBinding) (*NetworkInfo, error) {
	networkID := pb.Datapath
	if n, ok := d.networks[networkID]; ok {
		return n, nil
	}

	n, err := d.buildNetworkInfoLocked(ctx, networkID, pb)
	if err != nil {
		return nil, err
	}

	if err := d.netmgr.EnsureInfrastructure(ctx, n, d.localVtep); err != nil {
		d.allocator.Release(networkID)
		return nil, err
	}

	d.networks[networkID] = n
	return n, nil
}

// buildNetworkInfoLocked derives the NetworkInfo from a sample port's
// external_ids and allocates the bridge VLAN.
func (d *Driver) buildNetworkInfoLocked(ctx context.Context, networkID string, pb *ovn.PortBinding) (*NetworkInfo, error) {
	extIDs := pb.ExternalIDs

	vni, ok := ovn.ParseVNI(extIDs)
	if !ok {
		return nil, fmt.Errorf("port %s: invalid or missing vni", pb.LogicalPort)
	}
	bgpAS := extIDs[ovn.ASExtIDKey]
	if bgpAS == "" {
		return nil, fmt.Errorf("port %s: missing bgp as", pb.LogicalPort)
	}

	evpnType := extIDs[ovn.TypeExtIDKey]
	if evpnType != TypeL2 {
		evpnType = TypeL3
	}

	var mtu int
	dpRow, err := d.sb.DatapathByUUID(ctx, networkID)
	if err != nil {
		d.logger.Debug("datapath row not in cache", zap.String("network_id", networkID))
		mtu = d.helper.NetworkMTU(nil)
	} else {
		mtu = d.helper.NetworkMTU(dpRow)
	}

	vlanID, err := d.allocator.Allocate(networkID, vni)
	if err != nil {
		return nil, err
	}

	localPref, _ := ovn.ParseLocalPref(extIDs)

	return &NetworkInfo{
		ID:                  networkID,
		VNI:                 vni,
		Type:                evpnType,
		VlanID:              vlanID,
		BgpAS:               bgpAS,
		RouteTargets:        ovn.ParseTargetList(extIDs, ovn.RouteTargetsExtIDKey),
		RouteDistinguishers: ovn.ParseTargetList(extIDs, ovn.RouteDistinguishersExtIDKey),
		ImportTargets:       ovn.ParseTargetList(extIDs, ovn.ImportTargetsExtIDKey),
		ExportTargets:       ovn.ParseTargetList(extIDs, ovn.ExportTargetsExtIDKey),
		LocalPref:           localPref,
		MTU:                 mtu,
	}, nil
}

// seedPortLocked records the port and seeds FDB (L2) and neighbor (L3)
// state for it.
func (d *Driver) seedPortLocked(pb *ovn.PortBinding, n *NetworkInfo) {
	info, ok := ovn.ExtractPortInfo(pb)
	if !ok {
		d.logger.Debug("port has no address info", zap.String("logical_port", pb.LogicalPort))
		return
	}

	if n.IsL2() {
		d.fdb.EnsureFdbEntry(info.MAC, n.VlanID, d.cfg.EvpnBridge, d.cfg.EvpnBridgeVeth)
	} else {
		irb := IrbName(d.cfg.EvpnBridge, n.VlanID)
		for _, ip := range info.IPs {
			d.fdb.EnsureNeighborEntry(ip, info.MAC, irb)
		}
	}

	d.ports[pb.LogicalPort] = &PortRecord{
		LogicalPort: pb.LogicalPort,
		MAC:         info.MAC,
		IPs:         info.IPs,
		NetworkID:   n.ID,
		VlanID:      n.VlanID,
	}
}

// Sync reconciles the full data plane against OVN. On failure the previous
// network snapshot is restored and the error returned to the caller.
func (d *Driver) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	if d.metrics != nil {
		d.metrics.SyncTotal.Inc()
	}
	d.logger.Info("starting full sync")

	snapshot := d.networks
	if err := d.syncLocked(ctx); err != nil {
		d.networks = snapshot
		d.countError()
		return fmt.Errorf("sync failed: %w", err)
	}

	d.updateMetricsLocked(start)
	d.logger.Info("full sync completed",
		zap.Int("networks", len(d.networks)),
		zap.Int("vrfs", len(d.netmgr.VRFs())),
		zap.Int("ports", len(d.ports)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (d *Driver) syncLocked(ctx context.Context) error {
	d.networks = make(map[string]*NetworkInfo)
	d.ports = make(map[string]*PortRecord)
	d.fdb.Reset()

	evpnPorts, err := d.sb.ListEvpnPortBindings(ctx)
	if err != nil {
		return err
	}

	byNetwork := make(map[string][]*ovn.PortBinding)
	for _, pb := range evpnPorts {
		byNetwork[pb.Datapath] = append(byNetwork[pb.Datapath], pb)
	}
	d.logger.Info("found evpn port bindings",
		zap.Int("ports", len(evpnPorts)),
		zap.Int("networks", len(byNetwork)),
	)

	for networkID, ports := range byNetwork {
		d.syncNetworkLocked(ctx, networkID, ports)
	}

	active := make(map[string]struct{}, len(d.networks))
	for networkID := range d.networks {
		active[networkID] = struct{}{}
	}

	d.cleanupOrphansLocked()
	d.netmgr.PruneStale(active)
	d.allocator.CleanupStale(active)
	return nil
}

func (d *Driver) syncNetworkLocked(ctx context.Context, networkID string, ports []*ovn.PortBinding) {
	n, err := d.buildNetworkInfoLocked(ctx, networkID, ports[0])
	if err != nil {
		d.countError()
		d.logger.Warn("skipping network with bad evpn config",
			zap.String("network_id", networkID),
			zap.Error(err),
		)
		return
	}

	if err := d.netmgr.EnsureInfrastructure(ctx, n, d.localVtep); err != nil {
		d.countError()
		d.logger.Warn("failed to ensure network during sync",
			zap.String("network_id", networkID),
			zap.Error(err),
		)
		return
	}
	d.networks[networkID] = n

	var fdbEntries []FdbEntry
	var neighborEntries []NeighborEntry
	irb := IrbName(d.cfg.EvpnBridge, n.VlanID)

	for _, pb := range ports {
		info, ok := ovn.ExtractPortInfo(pb)
		if !ok {
			continue
		}
		if n.IsL2() {
			fdbEntries = append(fdbEntries, FdbEntry{MAC: info.MAC, Vlan: n.VlanID})
		} else {
			for _, ip := range info.IPs {
				neighborEntries = append(neighborEntries, NeighborEntry{
					IP: ip, MAC: info.MAC, Device: irb,
				})
			}
		}
		d.ports[pb.LogicalPort] = &PortRecord{
			LogicalPort: pb.LogicalPort,
			MAC:         info.MAC,
			IPs:         info.IPs,
			NetworkID:   networkID,
			VlanID:      n.VlanID,
		}
	}

	d.fdb.BatchAddFdb(fdbEntries, d.cfg.EvpnBridge, d.cfg.EvpnBridgeVeth)
	d.fdb.BatchAddNeighbors(neighborEntries)
}

// cleanupOrphansLocked deletes host devices carrying EVPN prefixes whose
// VNI is no longer live, and removes the FRR configuration of orphan VRFs.
func (d *Driver) cleanupOrphansLocked() {
	names, err := d.dp.LinkNames()
	if err != nil {
		d.logger.Warn("failed to list host links", zap.Error(err))
		return
	}

	liveVNIs := make(map[uint32]*NetworkInfo, len(d.networks))
	for _, n := range d.networks {
		liveVNIs[n.VNI] = n
	}

	for _, name := range names {
		switch {
		case strings.HasPrefix(name, VxlanPrefix):
			vni, ok := parseVNISuffix(name, VxlanPrefix)
			if !ok {
				continue
			}
			if _, live := liveVNIs[vni]; !live {
				d.logger.Warn("deleting orphaned vxlan device", zap.String("device", name))
				if err := d.dp.DeleteDevice(name); err != nil {
					d.logger.Warn("failed to delete orphan", zap.String("device", name), zap.Error(err))
				}
			}

		case strings.HasPrefix(name, VrfPrefix):
			if _, tracked := d.netmgr.VRFs()[name]; tracked {
				continue
			}
			vni, ok := parseVNISuffix(name, VrfPrefix)
			if !ok {
				continue
			}
			d.logger.Warn("removing orphaned vrf", zap.String("device", name))
			if err := d.frr.DelVrf(frr.VrfConfig{VrfName: name, VNI: vni, BgpAS: d.cfg.BgpAS}); err != nil {
				d.logger.Warn("failed to remove orphan vrf from frr",
					zap.String("vrf", name),
					zap.Error(err),
				)
			}
			if err := d.dp.DeleteDevice(name); err != nil {
				d.logger.Warn("failed to delete orphan", zap.String("device", name), zap.Error(err))
			}

		case strings.HasPrefix(name, InternalPortPrefix):
			vni, ok := parseVNISuffix(name, InternalPortPrefix)
			if !ok {
				continue
			}
			if n, live := liveVNIs[vni]; live && n.IsL2() {
				continue
			}
			d.logger.Warn("deleting orphaned internal port", zap.String("device", name))
			if err := d.netmgr.CleanupInternalPort(name); err != nil {
				d.logger.Warn("failed to delete orphan", zap.String("device", name), zap.Error(err))
			}
		}
	}
}

func parseVNISuffix(name, prefix string) (uint32, bool) {
	vni, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(vni), true
}

// FrrSync re-applies the base EVPN configuration and every tracked VRF's
// configuration, so a restarted FRR converges again.
func (d *Driver) FrrSync(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("syncing frr configuration")

	if err := d.frr.EnsureBaseConfig(); err != nil {
		d.logger.Warn("failed to apply base evpn config", zap.Error(err))
	}

	for vrfName, vrf := range d.netmgr.VRFs() {
		n := d.networkForVRFLocked(vrf)
		if n == nil {
			d.logger.Debug("vrf has no tracked network", zap.String("vrf", vrfName))
			continue
		}

		cfg := frr.VrfConfig{
			VrfName:             vrfName,
			VNI:                 vrf.VNI,
			BgpAS:               n.BgpAS,
			RouteTargets:        n.RouteTargets,
			RouteDistinguishers: n.RouteDistinguishers,
			ImportTargets:       n.ImportTargets,
			ExportTargets:       n.ExportTargets,
			LocalIP:             d.localVtep.String(),
			LocalPref:           n.LocalPref,
		}
		if err := d.frr.AddVrf(cfg); err != nil {
			d.logger.Warn("failed to reapply vrf config",
				zap.String("vrf", vrfName),
				zap.Error(err),
			)
			continue
		}
		if vrf.VNI == 0 {
			if err := d.frr.LeakVrf(vrfName, n.BgpAS, d.cfg.BgpRouterID); err != nil {
				d.logger.Warn("failed to reapply vrf leak",
					zap.String("vrf", vrfName),
					zap.Error(err),
				)
			}
		}
	}
}

func (d *Driver) networkForVRFLocked(vrf *VRFInfo) *NetworkInfo {
	for networkID := range vrf.Networks {
		if n, ok := d.networks[networkID]; ok {
			return n
		}
	}
	return nil
}

// StatsSnapshot returns the driver's tracked totals.
func (d *Driver) StatsSnapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statsLocked()
}

func (d *Driver) statsLocked() Stats {
	stats := Stats{
		VRFs:  len(d.netmgr.VRFs()),
		Ports: len(d.ports),
		Vlan:  d.allocator.Stats(),
	}
	for _, n := range d.networks {
		if n.IsL2() {
			stats.NetworksL2++
		} else {
			stats.NetworksL3++
		}
	}
	stats.Fdb, stats.Neighbors = d.fdb.Stats()
	return stats
}

func (d *Driver) updateMetricsLocked(start time.Time) {
	if d.metrics == nil {
		return
	}

	stats := d.statsLocked()
	d.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	d.metrics.LastSync.SetToCurrentTime()
	d.metrics.Networks.WithLabelValues(TypeL2).Set(float64(stats.NetworksL2))
	d.metrics.Networks.WithLabelValues(TypeL3).Set(float64(stats.NetworksL3))
	d.metrics.VRFs.Set(float64(stats.VRFs))
	d.metrics.Ports.Set(float64(stats.Ports))
	d.metrics.FdbEntries.Set(float64(stats.Fdb))
	d.metrics.NeighborEntries.Set(float64(stats.Neighbors))
	d.metrics.VlanAllocated.Set(float64(stats.Vlan.TotalAllocated))
	d.metrics.VlanFree.Set(float64(stats.Vlan.FreeVlans))
	d.metrics.VlanAllocations.Set(float64(stats.Vlan.Allocations))
	d.metrics.VlanReleases.Set(float64(stats.Vlan.Releases))
	d.metrics.VlanConflicts.Set(float64(stats.Vlan.Conflicts))
}

func (d *Driver) countError() {
	if d.metrics != nil {
		d.metrics.SyncErrors.Inc()
	}
}
