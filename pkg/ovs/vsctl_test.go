package ovs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortTag(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		tag  int
		ok   bool
	}{
		{name: "plain integer", raw: "100\n", tag: 100, ok: true},
		{name: "empty set brackets", raw: "[]\n", tag: 0, ok: false},
		{name: "empty set call", raw: "set()", tag: 0, ok: false},
		{name: "set with value", raw: "set(42)", tag: 42, ok: true},
		{name: "empty output", raw: "", tag: 0, ok: false},
		{name: "garbage", raw: "not-a-number", tag: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, ok := parsePortTag(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

func TestParseBridgeMappings(t *testing.T) {
	mappings := parseBridgeMappings(`"physnet1:br-ex,physnet2:br-vlan"`)
	assert.Equal(t, map[string]string{
		"physnet1": "br-ex",
		"physnet2": "br-vlan",
	}, mappings)

	assert.Empty(t, parseBridgeMappings(`""`))
	assert.Empty(t, parseBridgeMappings("  "))
	assert.Empty(t, parseBridgeMappings("malformed"))
}

func TestVsctlUsesRunner(t *testing.T) {
	var gotArgs []string
	v := NewVsctl(nil)
	v.run = func(args ...string) (string, error) {
		gotArgs = args
		return "\"chassis-1\"\n", nil
	}

	id, err := v.ChassisID()
	require.NoError(t, err)
	assert.Equal(t, "chassis-1", id)
	assert.Equal(t, []string{"get", "Open_vSwitch", ".", "external_ids:system-id"}, gotArgs)
}

func TestListPorts(t *testing.T) {
	v := NewVsctl(nil)
	v.run = func(args ...string) (string, error) {
		return "veth-to-evpn\nevpn-200\n\n", nil
	}

	ports, err := v.ListPorts("br-int")
	require.NoError(t, err)
	assert.Equal(t, []string{"veth-to-evpn", "evpn-200"}, ports)
}

func TestBridgeMappingsMissingKey(t *testing.T) {
	v := NewVsctl(nil)
	v.run = func(args ...string) (string, error) {
		return "", errors.New(`ovs-vsctl: no key "ovn-bridge-mappings" in Open_vSwitch record`)
	}

	mappings, err := v.BridgeMappings()
	require.NoError(t, err)
	assert.Empty(t, mappings)
}
