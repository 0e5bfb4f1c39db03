package evpn

import (
	"net"

	"go.uber.org/zap"

	"ovn-evpn-agent/pkg/dataplane"
)

// FdbEntry is one MAC/VLAN pair to seed into a bridge FDB.
type FdbEntry struct {
	MAC  string
	Vlan int
}

// NeighborEntry is one IP/MAC pair to seed into a device's neighbor table.
type NeighborEntry struct {
	IP     string
	MAC    string
	Device string
}

type fdbKey struct {
	mac  string
	vlan int
}

type neighKey struct {
	ip  string
	mac string
}

// FdbManager seeds static bridge FDB and kernel neighbor entries so FRR
// advertises EVPN Type-2 routes immediately instead of waiting for dynamic
// learning. Both halves can be disabled by feature flag, turning the
// operations into no-ops.
//
// Callers hold the driver's evpn mutex.
type FdbManager struct {
	dp     dataplane.Dataplane
	logger *zap.Logger

	staticFdb       bool
	staticNeighbors bool

	fdbEntries map[string]map[fdbKey]struct{}
	neighbors  map[string]map[neighKey]struct{}
}

// NewFdbManager creates an FDB/neighbor manager.
func NewFdbManager(dp dataplane.Dataplane, staticFdb, staticNeighbors bool, logger *zap.Logger) *FdbManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FdbManager{
		dp:              dp,
		logger:          logger,
		staticFdb:       staticFdb,
		staticNeighbors: staticNeighbors,
		fdbEntries:      make(map[string]map[fdbKey]struct{}),
		neighbors:       make(map[string]map[neighKey]struct{}),
	}
}

// EnsureFdbEntry installs a static FDB entry on the bridge port unless the
// (mac, vlan) pair is already recorded for the bridge. Kernel "already
// exists" is success; other failures are logged and not retried here.
func (m *FdbManager) EnsureFdbEntry(mac string, vlan int, bridge, port string) {
	if !m.staticFdb {
		return
	}

	key := fdbKey{mac: mac, vlan: vlan}
	if _, ok := m.fdbEntries[bridge][key]; ok {
		return
	}

	hwAddr, err := net.ParseMAC(mac)
	if err != nil {
		m.logger.Warn("skipping fdb entry with invalid mac", zap.String("mac", mac))
		return
	}

	if _, err := m.dp.EnsureFDBEntry(hwAddr, port, vlan); err != nil {
		m.logger.Warn("failed to add fdb entry",
			zap.String("mac", mac),
			zap.Int("vlan", vlan),
			zap.String("port", port),
			zap.Error(err),
		)
		return
	}

	if m.fdbEntries[bridge] == nil {
		m.fdbEntries[bridge] = make(map[fdbKey]struct{})
	}
	m.fdbEntries[bridge][key] = struct{}{}

	m.logger.Debug("added fdb entry",
		zap.String("mac", mac),
		zap.Int("vlan", vlan),
		zap.String("bridge", bridge),
	)
}

// EnsureNeighborEntry installs a permanent neighbor entry on the IRB device
// unless the (ip, mac) pair is already recorded for it.
func (m *FdbManager) EnsureNeighborEntry(ip, mac, device string) {
	if !m.staticNeighbors {
		return
	}

	key := neighKey{ip: ip, mac: mac}
	if _, ok := m.neighbors[device][key]; ok {
		return
	}

	ipAddr := net.ParseIP(ip)
	if ipAddr == nil {
		m.logger.Warn("skipping neighbor entry with invalid ip", zap.String("ip", ip))
		return
	}
	hwAddr, err := net.ParseMAC(mac)
	if err != nil {
		m.logger.Warn("skipping neighbor entry with invalid mac", zap.String("mac", mac))
		return
	}

	if _, err := m.dp.EnsureNeighbor(ipAddr, hwAddr, device); err != nil {
		m.logger.Warn("failed to add neighbor entry",
			zap.String("ip", ip),
			zap.String("mac", mac),
			zap.String("device", device),
			zap.Error(err),
		)
		return
	}

	if m.neighbors[device] == nil {
		m.neighbors[device] = make(map[neighKey]struct{})
	}
	m.neighbors[device][key] = struct{}{}

	m.logger.Debug("added neighbor entry",
		zap.String("ip", ip),
		zap.String("device", device),
	)
}

// BatchAddFdb applies EnsureFdbEntry over a list, best effort per entry.
func (m *FdbManager) BatchAddFdb(entries []FdbEntry, bridge, port string) {
	if !m.staticFdb {
		return
	}
	for _, entry := range entries {
		m.EnsureFdbEntry(entry.MAC, entry.Vlan, bridge, port)
	}
}

// BatchAddNeighbors applies EnsureNeighborEntry over a list, best effort
// per entry.
func (m *FdbManager) BatchAddNeighbors(entries []NeighborEntry) {
	if !m.staticNeighbors {
		return
	}
	for _, entry := range entries {
		m.EnsureNeighborEntry(entry.IP, entry.MAC, entry.Device)
	}
}

// CleanupDevice forgets all recorded entries for a device. Kernel state is
// left alone: removing the device removes its entries.
func (m *FdbManager) CleanupDevice(name string) {
	delete(m.fdbEntries, name)
	delete(m.neighbors, name)
}

// Reset drops all recorded state, used at the start of a full sync.
func (m *FdbManager) Reset() {
	m.fdbEntries = make(map[string]map[fdbKey]struct{})
	m.neighbors = make(map[string]map[neighKey]struct{})
}

// Stats returns the totals of recorded FDB and neighbor entries.
func (m *FdbManager) Stats() (fdbTotal, neighborTotal int) {
	for _, entries := range m.fdbEntries {
		fdbTotal += len(entries)
	}
	for _, entries := range m.neighbors {
		neighborTotal += len(entries)
	}
	return fdbTotal, neighborTotal
}

// HasFdbEntry reports whether the (mac, vlan) pair is recorded for bridge.
func (m *FdbManager) HasFdbEntry(mac string, vlan int, bridge string) bool {
	_, ok := m.fdbEntries[bridge][fdbKey{mac: mac, vlan: vlan}]
	return ok
}
