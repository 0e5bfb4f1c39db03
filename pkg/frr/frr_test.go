package frr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVtysh records applied configurations and serves canned show output.
type fakeVtysh struct {
	applied []string
	show    map[string]string
	fail    error
}

func (f *fakeVtysh) ApplyConfig(config string) error {
	if f.fail != nil {
		return f.fail
	}
	f.applied = append(f.applied, config)
	return nil
}

func (f *fakeVtysh) Run(command string) (string, error) {
	if out, ok := f.show[command]; ok {
		return out, nil
	}
	return "", errors.New("unexpected command: " + command)
}

func TestAddVrfRendersDefaults(t *testing.T) {
	vtysh := &fakeVtysh{}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.AddVrf(VrfConfig{
		VrfName:      "vrf-200",
		VNI:          200,
		RouteTargets: []string{"64999:200"},
		LocalIP:      "172.16.0.10",
	})
	require.NoError(t, err)
	require.Len(t, vtysh.applied, 1)

	want := `vrf vrf-200
  vni 200
exit-vrf

router bgp 64999 vrf vrf-200
  address-family ipv4 unicast
    redistribute connected
  exit-address-family
  address-family ipv6 unicast
    redistribute connected
  exit-address-family
  address-family l2vpn evpn
    advertise ipv4 unicast
    advertise ipv6 unicast
    rd 172.16.0.10:200
    route-target import 64999:200
    route-target export 64999:200
  exit-address-family
`
	assert.Equal(t, want, vtysh.applied[0])
}

func TestAddVrfExplicitRdAndTargets(t *testing.T) {
	vtysh := &fakeVtysh{}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.AddVrf(VrfConfig{
		VrfName:             "vrf-300",
		VNI:                 300,
		BgpAS:               "65001",
		RouteTargets:        []string{"65001:300"},
		RouteDistinguishers: []string{"10.0.0.1:300"},
		ImportTargets:       []string{"65001:999"},
		ExportTargets:       []string{"65001:888"},
		LocalIP:             "172.16.0.10",
	})
	require.NoError(t, err)
	require.Len(t, vtysh.applied, 1)

	config := vtysh.applied[0]
	assert.Contains(t, config, "router bgp 65001 vrf vrf-300")
	assert.Contains(t, config, "    rd 10.0.0.1:300\n")
	assert.NotContains(t, config, "172.16.0.10:300")
	assert.Contains(t, config, "    route-target import 65001:300\n    route-target export 65001:300\n")
	assert.Contains(t, config, "    route-target export 65001:888\n")
	assert.Contains(t, config, "    route-target import 65001:999\n")
}

func TestAddVrfLocalPref(t *testing.T) {
	vtysh := &fakeVtysh{}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.AddVrf(VrfConfig{
		VrfName:      "vrf-200",
		VNI:          200,
		RouteTargets: []string{"64999:200"},
		LocalIP:      "172.16.0.10",
		LocalPref:    120,
	})
	require.NoError(t, err)
	require.Len(t, vtysh.applied, 1)

	config := vtysh.applied[0]
	assert.Contains(t, config, "route-map vrf-200-local-pref permit 10\n  set local-preference 120\nexit\n")
	assert.Contains(t, config, "  neighbor evpn-peers peer-group\n")
	assert.Contains(t, config, "    neighbor evpn-peers route-map vrf-200-local-pref in\n")
}

func TestDelVrf(t *testing.T) {
	vtysh := &fakeVtysh{}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.DelVrf(VrfConfig{VrfName: "vrf-200", VNI: 200})
	require.NoError(t, err)
	require.Len(t, vtysh.applied, 1)
	assert.Equal(t, "no vrf vrf-200\nno router bgp 64999 vrf vrf-200\n", vtysh.applied[0])
}

func TestDelVrfRemovesRouteMap(t *testing.T) {
	vtysh := &fakeVtysh{}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.DelVrf(VrfConfig{VrfName: "vrf-200", VNI: 200, LocalPref: 120})
	require.NoError(t, err)
	assert.Contains(t, vtysh.applied[0], "no route-map vrf-200-local-pref\n")
}

func TestLeakVrfResolvesRouterID(t *testing.T) {
	vtysh := &fakeVtysh{
		show: map[string]string{
			"show ip bgp summary json": `{"ipv4Unicast":{"routerId":"10.1.1.1"}}`,
		},
	}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.LeakVrf("vrf-0", "", "")
	require.NoError(t, err)
	require.Len(t, vtysh.applied, 1)

	config := vtysh.applied[0]
	assert.Contains(t, config, "  bgp router-id 10.1.1.1\n")
	assert.Contains(t, config, "    import vrf vrf-0\n")
	assert.Contains(t, config, "router bgp 64999 vrf vrf-0\n")
}

func TestLeakVrfUnknownRouterID(t *testing.T) {
	vtysh := &fakeVtysh{
		show: map[string]string{"show ip bgp summary json": `{}`},
	}
	emitter := NewEmitter(vtysh, "64999", nil)

	err := emitter.LeakVrf("vrf-0", "64999", "")
	assert.ErrorIs(t, err, ErrUnknownRouterID)
	assert.Empty(t, vtysh.applied)
}

func TestEnsureBaseConfig(t *testing.T) {
	vtysh := &fakeVtysh{}
	emitter := NewEmitter(vtysh, "64999", nil)

	require.NoError(t, emitter.EnsureBaseConfig())
	require.Len(t, vtysh.applied, 1)
	assert.Equal(t, "router bgp 64999\n  address-family l2vpn evpn\n    advertise-all-vni\n  exit-address-family\n", vtysh.applied[0])
}

func TestEnsureBaseConfigDiscoversAS(t *testing.T) {
	vtysh := &fakeVtysh{
		show: map[string]string{
			"show running-config": "frr version 8.4\n!\nrouter bgp 65010\n bgp router-id 10.1.1.1\n",
		},
	}
	emitter := NewEmitter(vtysh, "", nil)

	require.NoError(t, emitter.EnsureBaseConfig())
	require.Len(t, vtysh.applied, 1)
	assert.Contains(t, vtysh.applied[0], "router bgp 65010\n")
}

func TestEnsureBaseConfigNoASIsNoop(t *testing.T) {
	vtysh := &fakeVtysh{
		show: map[string]string{"show running-config": "frr version 8.4\n"},
	}
	emitter := NewEmitter(vtysh, "", nil)

	require.NoError(t, emitter.EnsureBaseConfig())
	assert.Empty(t, vtysh.applied)
}
