package evpn

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNetworkManager(t *testing.T) (*NetworkManager, *fakeDataplane, *fakeOvs, *fakeFrr, *fakeResolver) {
	t.Helper()
	dp := newFakeDataplane()
	ovs := newFakeOvs()
	frrc := newFakeFrr()
	resolver := newFakeResolver()
	m := NewNetworkManager(DefaultConfig(), dp, ovs, frrc, resolver, nil)
	return m, dp, ovs, frrc, resolver
}

func l3Network() *NetworkInfo {
	return &NetworkInfo{
		ID:           "dp-1",
		VNI:          200,
		Type:         TypeL3,
		VlanID:       200,
		BgpAS:        "64999",
		RouteTargets: []string{"64999:200"},
		MTU:          1500,
	}
}

var vtepIP = net.ParseIP("172.16.0.10")

func TestEnsureInfrastructureL3(t *testing.T) {
	m, dp, ovs, frrc, resolver := testNetworkManager(t)
	resolver.gateways["dp-1"] = []string{"10.0.0.1/24"}

	require.NoError(t, m.EnsureInfrastructure(context.Background(), l3Network(), vtepIP))

	// Devices: vrf-200, vxlan-200, br-evpn.200; no internal port for L3.
	assert.Equal(t, "vrf", dp.devices["vrf-200"])
	assert.Equal(t, "vxlan", dp.devices["vxlan-200"])
	assert.Equal(t, "vlan", dp.devices["br-evpn.200"])
	assert.Empty(t, ovs.ports["br-int"])

	// VXLAN port wiring.
	assert.Equal(t, "br-evpn", dp.masters["vxlan-200"])
	assert.False(t, dp.learning["vxlan-200"])
	assert.True(t, dp.suppress["vxlan-200"])
	assert.Contains(t, dp.bridgeVlans["vxlan-200"], "200/false/false")
	assert.Contains(t, dp.bridgeVlans["veth-to-ovs"], "200/false/false")

	// IRB wiring.
	assert.Equal(t, "vrf-200", dp.masters["br-evpn.200"])
	assert.True(t, dp.proxyARP["br-evpn.200"])
	assert.True(t, dp.proxyNDP["br-evpn.200"])
	assert.Equal(t, []string{"10.0.0.1/24"}, dp.addresses["br-evpn.200"])

	// FRR got the add-vrf with default RD derived from the VTEP IP.
	cfg, err := frrc.lastAdded()
	require.NoError(t, err)
	assert.Equal(t, "vrf-200", cfg.VrfName)
	assert.Equal(t, uint32(200), cfg.VNI)
	assert.Equal(t, []string{"64999:200"}, cfg.RouteTargets)
	assert.Equal(t, "172.16.0.10", cfg.LocalIP)

	// VRF record tracks the network.
	vrf := m.VRFs()["vrf-200"]
	require.NotNil(t, vrf)
	assert.Equal(t, 1_000_200, vrf.TableID)
	assert.Contains(t, vrf.Networks, "dp-1")
}

func TestEnsureInfrastructureL2CreatesInternalPort(t *testing.T) {
	m, dp, ovs, _, resolver := testNetworkManager(t)
	resolver.ovnVlans["dp-1"] = 5

	n := l3Network()
	n.Type = TypeL2
	require.NoError(t, m.EnsureInfrastructure(context.Background(), n, vtepIP))

	require.Contains(t, ovs.ports["br-int"], "evpn-200")
	// OVS tag is the OVN VLAN, not the bridge VLAN.
	assert.Equal(t, 5, ovs.tags["evpn-200"])
	assert.Equal(t, 5, n.OvnVlan)
	assert.Equal(t, "br-evpn", dp.masters["evpn-200"])
	assert.Contains(t, dp.bridgeVlans["evpn-200"], "200/true/true")
	assert.True(t, dp.learning["evpn-200"])
}

func TestInternalPortNameTruncated(t *testing.T) {
	assert.Equal(t, "evpn-16777215", InternalPortName(16777215))
	assert.LessOrEqual(t, len(InternalPortName(4294967295)), 15)
}

func TestEnsureInfrastructureIdempotent(t *testing.T) {
	m, dp, _, frrc, _ := testNetworkManager(t)

	require.NoError(t, m.EnsureInfrastructure(context.Background(), l3Network(), vtepIP))
	devicesAfterFirst := len(dp.devices)

	require.NoError(t, m.EnsureInfrastructure(context.Background(), l3Network(), vtepIP))
	assert.Equal(t, devicesAfterFirst, len(dp.devices))
	assert.Len(t, m.VRFs()["vrf-200"].Networks, 1)
	// FRR config is re-applied, which is idempotent on the FRR side.
	assert.Len(t, frrc.added, 2)
}

func TestEnsureInfrastructureRollback(t *testing.T) {
	m, dp, _, frrc, _ := testNetworkManager(t)
	dp.failOn["EnsureVlanDevice"] = errors.New("netlink: invalid argument")

	err := m.EnsureInfrastructure(context.Background(), l3Network(), vtepIP)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceBuild)

	// Everything created before the failure is gone again.
	assert.NotContains(t, dp.devices, "vxlan-200")
	assert.NotContains(t, dp.devices, "vrf-200")
	assert.NotContains(t, m.VRFs(), "vrf-200")
	assert.Empty(t, frrc.added)
}

func TestRollbackKeepsSharedVRF(t *testing.T) {
	m, dp, _, _, _ := testNetworkManager(t)

	require.NoError(t, m.EnsureInfrastructure(context.Background(), l3Network(), vtepIP))

	// A second network on the same VNI fails mid-build: the shared VRF
	// must survive, only the new network's membership is undone.
	second := l3Network()
	second.ID = "dp-2"
	second.VlanID = 201
	dp.failOn["EnsureVlanDevice"] = errors.New("netlink: invalid argument")

	err := m.EnsureInfrastructure(context.Background(), second, vtepIP)
	require.ErrorIs(t, err, ErrResourceBuild)

	vrf := m.VRFs()["vrf-200"]
	require.NotNil(t, vrf)
	assert.Contains(t, vrf.Networks, "dp-1")
	assert.NotContains(t, vrf.Networks, "dp-2")
	assert.Contains(t, dp.devices, "vrf-200")
}

func TestCleanupInfrastructure(t *testing.T) {
	m, dp, _, frrc, _ := testNetworkManager(t)

	n := l3Network()
	require.NoError(t, m.EnsureInfrastructure(context.Background(), n, vtepIP))
	require.NoError(t, m.CleanupInfrastructure(context.Background(), n))

	assert.NotContains(t, dp.devices, "br-evpn.200")
	assert.NotContains(t, dp.devices, "vxlan-200")
	// VRF record gone, FRR told to remove the VRF.
	assert.NotContains(t, m.VRFs(), "vrf-200")
	require.Len(t, frrc.deleted, 1)
	assert.Equal(t, "vrf-200", frrc.deleted[0].VrfName)
	// Kernel VRF device is retained unless opted in.
	assert.Contains(t, dp.devices, "vrf-200")
}

func TestCleanupKeepsSharedVRFUntilEmpty(t *testing.T) {
	m, _, _, frrc, _ := testNetworkManager(t)

	first := l3Network()
	second := l3Network()
	second.ID = "dp-2"
	second.VlanID = 201

	require.NoError(t, m.EnsureInfrastructure(context.Background(), first, vtepIP))
	require.NoError(t, m.EnsureInfrastructure(context.Background(), second, vtepIP))

	require.NoError(t, m.CleanupInfrastructure(context.Background(), first))
	assert.Contains(t, m.VRFs(), "vrf-200")
	assert.Empty(t, frrc.deleted)

	require.NoError(t, m.CleanupInfrastructure(context.Background(), second))
	assert.NotContains(t, m.VRFs(), "vrf-200")
	assert.Len(t, frrc.deleted, 1)
}

func TestCleanupDeletesVrfDeviceWhenConfigured(t *testing.T) {
	dp := newFakeDataplane()
	cfg := DefaultConfig()
	cfg.DeleteVrfOnDisconnect = true
	m := NewNetworkManager(cfg, dp, newFakeOvs(), newFakeFrr(), newFakeResolver(), nil)

	n := l3Network()
	require.NoError(t, m.EnsureInfrastructure(context.Background(), n, vtepIP))
	require.NoError(t, m.CleanupInfrastructure(context.Background(), n))

	assert.NotContains(t, dp.devices, "vrf-200")
}

func TestCleanupL2RemovesInternalPort(t *testing.T) {
	m, dp, ovs, _, resolver := testNetworkManager(t)
	resolver.ovnVlans["dp-1"] = 5

	n := l3Network()
	n.Type = TypeL2
	require.NoError(t, m.EnsureInfrastructure(context.Background(), n, vtepIP))
	require.NoError(t, m.CleanupInfrastructure(context.Background(), n))

	assert.NotContains(t, ovs.ports["br-int"], "evpn-200")
	assert.NotContains(t, dp.devices, "evpn-200")
}

func TestPruneStale(t *testing.T) {
	m, _, _, frrc, _ := testNetworkManager(t)

	require.NoError(t, m.EnsureInfrastructure(context.Background(), l3Network(), vtepIP))

	other := l3Network()
	other.ID = "dp-2"
	other.VNI = 300
	other.VlanID = 300
	require.NoError(t, m.EnsureInfrastructure(context.Background(), other, vtepIP))

	m.PruneStale(map[string]struct{}{"dp-1": {}})

	assert.Contains(t, m.VRFs(), "vrf-200")
	assert.NotContains(t, m.VRFs(), "vrf-300")
	require.Len(t, frrc.deleted, 1)
	assert.Equal(t, "vrf-300", frrc.deleted[0].VrfName)
}

func TestVNIZeroLeaksToUnderlay(t *testing.T) {
	m, _, _, frrc, _ := testNetworkManager(t)

	n := l3Network()
	n.VNI = 0
	require.NoError(t, m.EnsureInfrastructure(context.Background(), n, vtepIP))
	assert.Equal(t, []string{"vrf-0"}, frrc.leaked)
}
