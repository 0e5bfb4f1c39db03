package evpn

import (
	"context"
	"errors"
	"fmt"
	"net"

	"ovn-evpn-agent/pkg/dataplane"
	"ovn-evpn-agent/pkg/frr"
)

// fakeDataplane records kernel mutations in memory. Operations can be made
// to fail by name to exercise rollback paths.
type fakeDataplane struct {
	devices map[string]string // name -> kind
	masters map[string]string // device -> master
	up      map[string]bool
	mtus    map[string]int

	bridgeVlans map[string][]string // device -> "vlan/pvid/untagged"
	learning    map[string]bool
	suppress    map[string]bool
	addresses   map[string][]string // device -> cidrs
	fdb         []string            // "mac|dev|vlan"
	neighbors   []string            // "ip|mac|dev"
	routes      []string            // "dst|gw|table"
	proxyARP    map[string]bool
	proxyNDP    map[string]bool

	flushedTables []int

	// failOn makes the named operation fail, e.g. "EnsureVlanDevice".
	failOn map[string]error

	calls []string
}

func newFakeDataplane() *fakeDataplane {
	return &fakeDataplane{
		devices:     make(map[string]string),
		masters:     make(map[string]string),
		up:          make(map[string]bool),
		mtus:        make(map[string]int),
		bridgeVlans: make(map[string][]string),
		learning:    make(map[string]bool),
		suppress:    make(map[string]bool),
		addresses:   make(map[string][]string),
		proxyARP:    make(map[string]bool),
		proxyNDP:    make(map[string]bool),
		failOn:      make(map[string]error),
	}
}

func (f *fakeDataplane) fail(op string) error {
	if err, ok := f.failOn[op]; ok {
		return err
	}
	return nil
}

func (f *fakeDataplane) ensureDevice(op, name, kind string) (dataplane.EnsureResult, error) {
	f.calls = append(f.calls, op+":"+name)
	if err := f.fail(op); err != nil {
		return dataplane.Created, err
	}
	if _, ok := f.devices[name]; ok {
		return dataplane.AlreadyExisted, nil
	}
	f.devices[name] = kind
	return dataplane.Created, nil
}

func (f *fakeDataplane) EnsureBridge(name string) (dataplane.EnsureResult, error) {
	return f.ensureDevice("EnsureBridge", name, "bridge")
}

func (f *fakeDataplane) EnsureVeth(name, peer string) (dataplane.EnsureResult, error) {
	res, err := f.ensureDevice("EnsureVeth", name, "veth")
	if err == nil && res == dataplane.Created {
		f.devices[peer] = "veth"
	}
	return res, err
}

func (f *fakeDataplane) EnsureVRF(name string, table uint32) (dataplane.EnsureResult, error) {
	return f.ensureDevice("EnsureVRF", name, "vrf")
}

func (f *fakeDataplane) EnsureVXLAN(name string, vni uint32, local net.IP, dstPort int) (dataplane.EnsureResult, error) {
	return f.ensureDevice("EnsureVXLAN", name, "vxlan")
}

func (f *fakeDataplane) EnsureVlanDevice(parent string, vlan int) (dataplane.EnsureResult, error) {
	return f.ensureDevice("EnsureVlanDevice", fmt.Sprintf("%s.%d", parent, vlan), "vlan")
}

func (f *fakeDataplane) DeleteDevice(name string) error {
	f.calls = append(f.calls, "DeleteDevice:"+name)
	if err := f.fail("DeleteDevice"); err != nil {
		return err
	}
	delete(f.devices, name)
	delete(f.masters, name)
	delete(f.up, name)
	return nil
}

func (f *fakeDataplane) LinkExists(name string) (bool, error) {
	_, ok := f.devices[name]
	return ok, nil
}

func (f *fakeDataplane) LinkNames() ([]string, error) {
	names := make([]string, 0, len(f.devices))
	for name := range f.devices {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeDataplane) SetUp(name string) error {
	if err := f.fail("SetUp"); err != nil {
		return err
	}
	f.up[name] = true
	return nil
}

func (f *fakeDataplane) SetMTU(name string, mtu int) error {
	if err := f.fail("SetMTU"); err != nil {
		return err
	}
	f.mtus[name] = mtu
	return nil
}

func (f *fakeDataplane) SetMaster(dev, master string) error {
	if err := f.fail("SetMaster"); err != nil {
		return err
	}
	f.masters[dev] = master
	return nil
}

func (f *fakeDataplane) SetNoMaster(dev string) error {
	delete(f.masters, dev)
	return nil
}

func (f *fakeDataplane) SetLearning(dev string, enable bool) error {
	f.learning[dev] = enable
	return nil
}

func (f *fakeDataplane) SetNeighSuppress(dev string, enable bool) error {
	f.suppress[dev] = enable
	return nil
}

func (f *fakeDataplane) EnsureBridgeVlan(dev string, vlan int, pvid, untagged bool) error {
	if err := f.fail("EnsureBridgeVlan"); err != nil {
		return err
	}
	f.bridgeVlans[dev] = append(f.bridgeVlans[dev],
		fmt.Sprintf("%d/%t/%t", vlan, pvid, untagged))
	return nil
}

func (f *fakeDataplane) EnsureAddress(dev, cidr string) (dataplane.EnsureResult, error) {
	if err := f.fail("EnsureAddress"); err != nil {
		return dataplane.Created, err
	}
	for _, existing := range f.addresses[dev] {
		if existing == cidr {
			return dataplane.AlreadyExisted, nil
		}
	}
	f.addresses[dev] = append(f.addresses[dev], cidr)
	return dataplane.Created, nil
}

func (f *fakeDataplane) EnsureFDBEntry(mac net.HardwareAddr, dev string, vlan int) (dataplane.EnsureResult, error) {
	if err := f.fail("EnsureFDBEntry"); err != nil {
		return dataplane.Created, err
	}
	entry := fmt.Sprintf("%s|%s|%d", mac, dev, vlan)
	for _, existing := range f.fdb {
		if existing == entry {
			return dataplane.AlreadyExisted, nil
		}
	}
	f.fdb = append(f.fdb, entry)
	return dataplane.Created, nil
}

func (f *fakeDataplane) EnsureNeighbor(ip net.IP, mac net.HardwareAddr, dev string) (dataplane.EnsureResult, error) {
	if err := f.fail("EnsureNeighbor"); err != nil {
		return dataplane.Created, err
	}
	f.neighbors = append(f.neighbors, fmt.Sprintf("%s|%s|%s", ip, mac, dev))
	return dataplane.Created, nil
}

func (f *fakeDataplane) EnsureRoute(dst *net.IPNet, gw net.IP, table int) (dataplane.EnsureResult, error) {
	if err := f.fail("EnsureRoute"); err != nil {
		return dataplane.Created, err
	}
	f.routes = append(f.routes, fmt.Sprintf("%s|%s|%d", dst, gw, table))
	return dataplane.Created, nil
}

func (f *fakeDataplane) FlushRoutes(table int) error {
	f.flushedTables = append(f.flushedTables, table)
	return nil
}

func (f *fakeDataplane) EnableProxyARP(dev string) error {
	f.proxyARP[dev] = true
	return nil
}

func (f *fakeDataplane) EnableProxyNDP(dev string) error {
	f.proxyNDP[dev] = true
	return nil
}

func (f *fakeDataplane) InterfaceAddrs(name string) ([]net.IP, error) {
	var ips []net.IP
	for _, cidr := range f.addresses[name] {
		ip, _, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

var _ dataplane.Dataplane = (*fakeDataplane)(nil)

// fakeOvs records OVS port operations.
type fakeOvs struct {
	ports map[string][]string // bridge -> ports
	tags  map[string]int
	fail  map[string]error
}

func newFakeOvs() *fakeOvs {
	return &fakeOvs{
		ports: make(map[string][]string),
		tags:  make(map[string]int),
		fail:  make(map[string]error),
	}
}

func (f *fakeOvs) EnsureInternalPort(bridge, port string) error {
	if err := f.fail["EnsureInternalPort"]; err != nil {
		return err
	}
	for _, existing := range f.ports[bridge] {
		if existing == port {
			return nil
		}
	}
	f.ports[bridge] = append(f.ports[bridge], port)
	return nil
}

func (f *fakeOvs) SetPortTag(port string, tag int) error {
	if err := f.fail["SetPortTag"]; err != nil {
		return err
	}
	f.tags[port] = tag
	return nil
}

func (f *fakeOvs) DeletePort(bridge, port string) error {
	kept := f.ports[bridge][:0]
	for _, existing := range f.ports[bridge] {
		if existing != port {
			kept = append(kept, existing)
		}
	}
	f.ports[bridge] = kept
	return nil
}

// fakeFrr records emitted VRF configurations.
type fakeFrr struct {
	added       []frr.VrfConfig
	deleted     []frr.VrfConfig
	leaked      []string
	baseConfigs int
	fail        map[string]error
}

func newFakeFrr() *fakeFrr {
	return &fakeFrr{fail: make(map[string]error)}
}

func (f *fakeFrr) AddVrf(cfg frr.VrfConfig) error {
	if err := f.fail["AddVrf"]; err != nil {
		return err
	}
	f.added = append(f.added, cfg)
	return nil
}

func (f *fakeFrr) DelVrf(cfg frr.VrfConfig) error {
	if err := f.fail["DelVrf"]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, cfg)
	return nil
}

func (f *fakeFrr) LeakVrf(vrfName, bgpAS, routerID string) error {
	f.leaked = append(f.leaked, vrfName)
	return nil
}

func (f *fakeFrr) EnsureBaseConfig() error {
	f.baseConfigs++
	return nil
}

func (f *fakeFrr) lastAdded() (frr.VrfConfig, error) {
	if len(f.added) == 0 {
		return frr.VrfConfig{}, errors.New("no vrf added")
	}
	return f.added[len(f.added)-1], nil
}

// fakeResolver serves OVN VLAN tags and gateway IPs to the network manager.
type fakeResolver struct {
	ovnVlans map[string]int
	gateways map[string][]string
	fail     map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		ovnVlans: make(map[string]int),
		gateways: make(map[string][]string),
		fail:     make(map[string]error),
	}
}

func (f *fakeResolver) OvnVlanTag(_ context.Context, networkID string) (int, error) {
	if err := f.fail["OvnVlanTag"]; err != nil {
		return 0, err
	}
	return f.ovnVlans[networkID], nil
}

func (f *fakeResolver) GatewayIPs(_ context.Context, networkID string) []string {
	return f.gateways[networkID]
}
