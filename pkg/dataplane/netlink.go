package dataplane

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// NetlinkDataplane implements Dataplane against the running kernel using
// rtnetlink. Bridge port neighbor suppression has no netlink library setter,
// so it falls back to the iproute2 bridge command.
type NetlinkDataplane struct {
	logger *zap.Logger
}

// NewNetlinkDataplane creates a kernel-backed dataplane.
func NewNetlinkDataplane(logger *zap.Logger) *NetlinkDataplane {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetlinkDataplane{logger: logger}
}

// isExist reports whether err means the resource is already present.
func isExist(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrExist) ||
		strings.Contains(strings.ToLower(err.Error()), "file exists")
}

// isNotFound reports whether err means the resource is absent.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var lnf netlink.LinkNotFoundError
	return errors.As(err, &lnf) || errors.Is(err, os.ErrNotExist)
}

func (d *NetlinkDataplane) EnsureBridge(name string) (EnsureResult, error) {
	if link, err := netlink.LinkByName(name); err == nil {
		if _, ok := link.(*netlink.Bridge); !ok {
			return AlreadyExisted, fmt.Errorf("device %s: %w", name, ErrLinkTypeMismatch)
		}
		return AlreadyExisted, nil
	}

	vlanFiltering := true
	defaultPVID := uint16(1)
	bridge := &netlink.Bridge{
		LinkAttrs:       netlink.LinkAttrs{Name: name},
		VlanFiltering:   &vlanFiltering,
		VlanDefaultPVID: &defaultPVID,
	}
	if err := netlink.LinkAdd(bridge); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to create bridge %s: %w", name, err)
	}

	d.logger.Info("created bridge", zap.String("device", name))
	return Created, nil
}

func (d *NetlinkDataplane) EnsureVeth(name, peer string) (EnsureResult, error) {
	if _, err := netlink.LinkByName(name); err == nil {
		return AlreadyExisted, nil
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		PeerName:  peer,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to create veth %s/%s: %w", name, peer, err)
	}

	d.logger.Info("created veth pair",
		zap.String("device", name),
		zap.String("peer", peer),
	)
	return Created, nil
}

func (d *NetlinkDataplane) EnsureVRF(name string, table uint32) (EnsureResult, error) {
	if link, err := netlink.LinkByName(name); err == nil {
		vrf, ok := link.(*netlink.Vrf)
		if !ok {
			return AlreadyExisted, fmt.Errorf("device %s: %w", name, ErrLinkTypeMismatch)
		}
		if vrf.Table != table {
			return AlreadyExisted, fmt.Errorf("vrf %s has table %d, want %d: %w",
				name, vrf.Table, table, ErrLinkTypeMismatch)
		}
		return AlreadyExisted, nil
	}

	vrf := &netlink.Vrf{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Table:     table,
	}
	if err := netlink.LinkAdd(vrf); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to create vrf %s: %w", name, err)
	}

	d.logger.Info("created vrf",
		zap.String("device", name),
		zap.Uint32("table", table),
	)
	return Created, nil
}

func (d *NetlinkDataplane) EnsureVXLAN(name string, vni uint32, local net.IP, dstPort int) (EnsureResult, error) {
	if link, err := netlink.LinkByName(name); err == nil {
		if _, ok := link.(*netlink.Vxlan); !ok {
			return AlreadyExisted, fmt.Errorf("device %s: %w", name, ErrLinkTypeMismatch)
		}
		return AlreadyExisted, nil
	}

	vxlan := &netlink.Vxlan{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		VxlanId:   int(vni),
		SrcAddr:   local,
		Port:      dstPort,
		Learning:  false,
	}
	if err := netlink.LinkAdd(vxlan); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to create vxlan %s: %w", name, err)
	}

	d.logger.Info("created vxlan",
		zap.String("device", name),
		zap.Uint32("vni", vni),
		zap.String("local_ip", local.String()),
	)
	return Created, nil
}

func (d *NetlinkDataplane) EnsureVlanDevice(parent string, vlan int) (EnsureResult, error) {
	name := fmt.Sprintf("%s.%d", parent, vlan)
	if _, err := netlink.LinkByName(name); err == nil {
		return AlreadyExisted, nil
	}

	parentLink, err := netlink.LinkByName(parent)
	if err != nil {
		return Created, fmt.Errorf("parent device %s: %w", parent, ErrLinkNotFound)
	}

	vlanDev := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{
			Name:        name,
			ParentIndex: parentLink.Attrs().Index,
		},
		VlanId: vlan,
	}
	if err := netlink.LinkAdd(vlanDev); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to create vlan device %s: %w", name, err)
	}

	d.logger.Info("created vlan device", zap.String("device", name))
	return Created, nil
}

func (d *NetlinkDataplane) DeleteDevice(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up %s: %w", name, err)
	}

	if err := netlink.LinkDel(link); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}

	d.logger.Info("deleted device", zap.String("device", name))
	return nil
}

func (d *NetlinkDataplane) LinkExists(name string) (bool, error) {
	if _, err := netlink.LinkByName(name); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *NetlinkDataplane) LinkNames() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	names := make([]string, 0, len(links))
	for _, link := range links {
		names = append(names, link.Attrs().Name)
	}
	return names, nil
}

func (d *NetlinkDataplane) SetUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("device %s: %w", name, ErrLinkNotFound)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to set %s up: %w", name, err)
	}
	return nil
}

func (d *NetlinkDataplane) SetMTU(name string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("device %s: %w", name, ErrLinkNotFound)
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("failed to set mtu %d on %s: %w", mtu, name, err)
	}
	return nil
}

func (d *NetlinkDataplane) SetMaster(dev, master string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}
	masterLink, err := netlink.LinkByName(master)
	if err != nil {
		return fmt.Errorf("master device %s: %w", master, ErrLinkNotFound)
	}
	if err := netlink.LinkSetMaster(link, masterLink); err != nil {
		return fmt.Errorf("failed to enslave %s to %s: %w", dev, master, err)
	}
	return nil
}

func (d *NetlinkDataplane) SetNoMaster(dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}
	if err := netlink.LinkSetNoMaster(link); err != nil {
		return fmt.Errorf("failed to release %s from master: %w", dev, err)
	}
	return nil
}

func (d *NetlinkDataplane) SetLearning(dev string, enable bool) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}
	if err := netlink.LinkSetLearning(link, enable); err != nil {
		return fmt.Errorf("failed to set learning=%t on %s: %w", enable, dev, err)
	}
	return nil
}

// SetNeighSuppress shells out to the bridge command: the netlink library
// exposes no setter for IFLA_BRPORT_NEIGH_SUPPRESS.
func (d *NetlinkDataplane) SetNeighSuppress(dev string, enable bool) error {
	mode := "off"
	if enable {
		mode = "on"
	}
	cmd := exec.Command("bridge", "link", "set", "dev", dev, "neigh_suppress", mode)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set neigh_suppress on %s: %s: %w", dev, string(out), err)
	}
	return nil
}

func (d *NetlinkDataplane) EnsureBridgeVlan(dev string, vlan int, pvid, untagged bool) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}
	if err := netlink.BridgeVlanAdd(link, uint16(vlan), pvid, untagged, false, false); err != nil {
		if isExist(err) {
			return nil
		}
		return fmt.Errorf("failed to add vlan %d to port %s: %w", vlan, dev, err)
	}
	return nil
}

func (d *NetlinkDataplane) EnsureAddress(dev, cidr string) (EnsureResult, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return Created, fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return Created, fmt.Errorf("invalid address %s: %w", cidr, err)
	}

	if err := netlink.AddrAdd(link, addr); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to add address %s to %s: %w", cidr, dev, err)
	}

	d.logger.Debug("added address",
		zap.String("device", dev),
		zap.String("address", cidr),
	)
	return Created, nil
}

func (d *NetlinkDataplane) EnsureFDBEntry(mac net.HardwareAddr, dev string, vlan int) (EnsureResult, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return Created, fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}

	neigh := &netlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		Family:       unix.AF_BRIDGE,
		Flags:        unix.NTF_MASTER,
		State:        netlink.NUD_PERMANENT,
		HardwareAddr: mac,
		Vlan:         vlan,
	}
	if err := netlink.NeighAppend(neigh); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to add fdb entry %s vlan %d on %s: %w",
			mac, vlan, dev, err)
	}
	return Created, nil
}

func (d *NetlinkDataplane) EnsureNeighbor(ip net.IP, mac net.HardwareAddr, dev string) (EnsureResult, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return Created, fmt.Errorf("device %s: %w", dev, ErrLinkNotFound)
	}

	family := netlink.FAMILY_V4
	if ip.To4() == nil {
		family = netlink.FAMILY_V6
	}

	neigh := &netlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		Family:       family,
		State:        netlink.NUD_PERMANENT,
		IP:           ip,
		HardwareAddr: mac,
	}
	if err := netlink.NeighSet(neigh); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to add neighbor %s -> %s on %s: %w",
			ip, mac, dev, err)
	}
	return Created, nil
}

func (d *NetlinkDataplane) EnsureRoute(dst *net.IPNet, gw net.IP, table int) (EnsureResult, error) {
	route := &netlink.Route{
		Dst:   dst,
		Gw:    gw,
		Table: table,
	}
	if err := netlink.RouteAdd(route); err != nil {
		if isExist(err) {
			return AlreadyExisted, nil
		}
		return Created, fmt.Errorf("failed to add route %s via %s table %d: %w",
			dst, gw, table, err)
	}

	d.logger.Debug("added route",
		zap.String("dst", dst.String()),
		zap.String("gateway", gw.String()),
		zap.Int("table", table),
	)
	return Created, nil
}

func (d *NetlinkDataplane) FlushRoutes(table int) error {
	filter := &netlink.Route{Table: table}
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := netlink.RouteListFiltered(family, filter, netlink.RT_FILTER_TABLE)
		if err != nil {
			return fmt.Errorf("failed to list routes in table %d: %w", table, err)
		}
		for i := range routes {
			if err := netlink.RouteDel(&routes[i]); err != nil && !isNotFound(err) {
				d.logger.Warn("failed to delete route",
					zap.String("route", routes[i].String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

func (d *NetlinkDataplane) EnableProxyARP(dev string) error {
	return writeSysctl(fmt.Sprintf("/proc/sys/net/ipv4/conf/%s/proxy_arp", dev), "1")
}

func (d *NetlinkDataplane) EnableProxyNDP(dev string) error {
	return writeSysctl(fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/proxy_ndp", dev), "1")
}

func (d *NetlinkDataplane) InterfaceAddrs(name string) ([]net.IP, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", name, ErrLinkNotFound)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses on %s: %w", name, err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}

func writeSysctl(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
