package ovn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SBQuerier is the southbound read surface the helper needs.
type SBQuerier interface {
	PortBindingsByDatapath(ctx context.Context, datapath string) ([]*PortBinding, error)
	NetworkNameAndTag(ctx context.Context, datapath string, bridgeMappings map[string]string) (string, *int, error)
	DatapathByUUID(ctx context.Context, uuid string) (*DatapathBinding, error)
}

// OVSQuerier is the local OVS read surface the helper needs for EVPN L2
// patch-port tag resolution.
type OVSQuerier interface {
	BridgeMappings() (map[string]string, error)
	GetPortTag(port string) (int, bool, error)
}

// PortInfo is the MAC and IP set extracted from a Port_Binding.
type PortInfo struct {
	MAC string
	IPs []string
}

// Route is one custom route from a port association.
type Route struct {
	Destination string `json:"destination"`
	Nexthop     string `json:"nexthop"`
}

// Helper answers EVPN-specific OVN queries. VLAN tag lookups are cached and
// retried because the tag may not be available immediately after network
// creation.
type Helper struct {
	sb     SBQuerier
	ovs    OVSQuerier
	logger *zap.Logger

	ovsBridge  string
	defaultMTU int

	maxAttempts int
	retryDelay  time.Duration

	cacheMu   sync.Mutex
	vlanCache map[string]int
}

// NewHelper creates an OVN EVPN helper.
func NewHelper(sb SBQuerier, ovs OVSQuerier, ovsBridge string, defaultMTU int, logger *zap.Logger) *Helper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Helper{
		sb:          sb,
		ovs:         ovs,
		logger:      logger,
		ovsBridge:   ovsBridge,
		defaultMTU:  defaultMTU,
		maxAttempts: 10,
		retryDelay:  time.Second,
		vlanCache:   make(map[string]int),
	}
}

// OvnVlanTag resolves the OVN internal VLAN tag of a network. It tries the
// localnet query first, then scans the network's patch ports for an OVS tag,
// retrying the pair until the tag shows up. ErrPortNotFound is returned when
// all attempts fail.
func (h *Helper) OvnVlanTag(ctx context.Context, networkID string) (int, error) {
	h.cacheMu.Lock()
	if vlan, ok := h.vlanCache[networkID]; ok {
		h.cacheMu.Unlock()
		return vlan, nil
	}
	h.cacheMu.Unlock()

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		vlan, ok := h.queryVlanTag(ctx, networkID)
		if ok {
			h.cacheMu.Lock()
			h.vlanCache[networkID] = vlan
			h.cacheMu.Unlock()

			h.logger.Info("resolved ovn vlan tag",
				zap.String("network_id", networkID),
				zap.Int("vlan", vlan),
				zap.Int("attempt", attempt),
			)
			return vlan, nil
		}

		if attempt < h.maxAttempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(h.retryDelay):
			}
		}
	}

	return 0, fmt.Errorf("vlan tag for network %s: %w", networkID, ErrPortNotFound)
}

// ClearVlanCache drops the cached tag for one network, or all of them when
// networkID is empty.
func (h *Helper) ClearVlanCache(networkID string) {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()
	if networkID == "" {
		h.vlanCache = make(map[string]int)
		return
	}
	delete(h.vlanCache, networkID)
}

func (h *Helper) queryVlanTag(ctx context.Context, networkID string) (int, bool) {
	// Strategy 1: localnet port tag scoped by the bridge mappings.
	mappings, err := h.ovs.BridgeMappings()
	if err != nil {
		h.logger.Debug("failed to read bridge mappings", zap.Error(err))
	} else {
		_, tag, err := h.sb.NetworkNameAndTag(ctx, networkID, mappings)
		if err != nil {
			h.logger.Debug("localnet tag query failed", zap.Error(err))
		} else if tag != nil {
			return *tag, true
		}
	}

	// Strategy 2: OVS tag of the network's patch ports.
	if vlan, ok := h.queryPatchPortTag(ctx, networkID); ok {
		return vlan, true
	}
	return 0, false
}

func (h *Helper) queryPatchPortTag(ctx context.Context, networkID string) (int, bool) {
	ports, err := h.sb.PortBindingsByDatapath(ctx, networkID)
	if err != nil {
		h.logger.Debug("failed to list port bindings", zap.Error(err))
		return 0, false
	}

	for _, port := range ports {
		if port.Type != PortTypePatch {
			continue
		}

		candidates := []string{
			fmt.Sprintf("patch-%s-to-br-int", port.LogicalPort),
			fmt.Sprintf("patch-%s-to-%s", port.LogicalPort, h.ovsBridge),
			port.LogicalPort,
		}
		for _, candidate := range candidates {
			tag, ok, err := h.ovs.GetPortTag(candidate)
			if err != nil || !ok {
				continue
			}
			h.logger.Debug("found vlan tag on ovs patch port",
				zap.String("port", candidate),
				zap.Int("vlan", tag),
			)
			return tag, true
		}
	}
	return 0, false
}

// GatewayIPs extracts the gateway addresses of a network from its patch
// ports. Entries that do not parse as IP/prefix are dropped.
func (h *Helper) GatewayIPs(ctx context.Context, networkID string) []string {
	ports, err := h.sb.PortBindingsByDatapath(ctx, networkID)
	if err != nil {
		h.logger.Warn("failed to list ports for gateway extraction",
			zap.String("network_id", networkID),
			zap.Error(err),
		)
		return nil
	}

	var gateways []string
	for _, port := range ports {
		if port.Type != PortTypePatch {
			continue
		}
		info, ok := ExtractPortInfo(port)
		if !ok {
			continue
		}
		for _, ip := range info.IPs {
			prefix, err := netip.ParsePrefix(ip)
			if err != nil {
				h.logger.Warn("dropping gateway address without prefix",
					zap.String("port", port.LogicalPort),
					zap.String("address", ip),
				)
				continue
			}
			gateways = append(gateways, prefix.String())
		}
	}
	return gateways
}

// NetworkMTU resolves the MTU for a datapath: neutron:mtu external id, then
// the configured default, then the Ethernet default.
func (h *Helper) NetworkMTU(dp *DatapathBinding) int {
	if dp != nil {
		if raw := dp.ExternalIDs[MTUExtIDKey]; raw != "" {
			if mtu, err := strconv.Atoi(raw); err == nil {
				return mtu
			}
			h.logger.Warn("malformed neutron:mtu",
				zap.String("datapath", dp.UUID),
				zap.String("value", raw),
			)
		}
	}
	if h.defaultMTU > 0 {
		return h.defaultMTU
	}
	return 1500
}

// ExtractPortInfo parses Port_Binding.mac[0], a space-separated
// "MAC IP1 IP2 ..." string. It returns false for ports without address
// information (empty or "unknown").
func ExtractPortInfo(port *PortBinding) (PortInfo, bool) {
	if len(port.MAC) == 0 || port.MAC[0] == "unknown" {
		return PortInfo{}, false
	}

	fields := strings.Fields(port.MAC[0])
	if len(fields) == 0 {
		return PortInfo{}, false
	}
	return PortInfo{MAC: fields[0], IPs: fields[1:]}, true
}

// ParseTargetList reads an external_ids key holding either a JSON list of
// strings or a single bare string. Absence yields an empty list.
func ParseTargetList(extIDs map[string]string, key string) []string {
	raw := extIDs[key]
	if raw == "" {
		return nil
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	return []string{raw}
}

// ParseLocalPref reads the optional local preference attribute. The second
// return is false when absent or malformed.
func ParseLocalPref(extIDs map[string]string) (int, bool) {
	raw := extIDs[LocalPrefExtIDKey]
	if raw == "" {
		return 0, false
	}
	pref, err := strconv.Atoi(raw)
	if err != nil || pref <= 0 {
		return 0, false
	}
	return pref, true
}

// ParseVNI reads the VNI attribute and validates it as a 24-bit value.
func ParseVNI(extIDs map[string]string) (uint32, bool) {
	raw := extIDs[VniExtIDKey]
	if raw == "" {
		return 0, false
	}
	vni, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || vni >= 1<<24 {
		return 0, false
	}
	return uint32(vni), true
}

// ParseRoutes reads the custom routes attribute, a JSON list of
// {destination, nexthop} objects.
func ParseRoutes(extIDs map[string]string) ([]Route, error) {
	raw := extIDs[RoutesExtIDKey]
	if raw == "" {
		return nil, nil
	}

	var routes []Route
	if err := json.Unmarshal([]byte(raw), &routes); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", RoutesExtIDKey, err)
	}
	return routes, nil
}
