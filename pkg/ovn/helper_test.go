package ovn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSB struct {
	ports     map[string][]*PortBinding
	datapaths map[string]*DatapathBinding
	tags      map[string]*int

	// succeedAfter delays tag availability until the Nth query, simulating
	// eventual consistency.
	succeedAfter    int
	nameAndTagCalls int
}

func (f *fakeSB) PortBindingsByDatapath(_ context.Context, datapath string) ([]*PortBinding, error) {
	return f.ports[datapath], nil
}

func (f *fakeSB) NetworkNameAndTag(_ context.Context, datapath string, _ map[string]string) (string, *int, error) {
	f.nameAndTagCalls++
	if f.nameAndTagCalls < f.succeedAfter {
		return "", nil, nil
	}
	if tag, ok := f.tags[datapath]; ok {
		return "physnet1", tag, nil
	}
	return "", nil, nil
}

func (f *fakeSB) DatapathByUUID(_ context.Context, uuid string) (*DatapathBinding, error) {
	if dp, ok := f.datapaths[uuid]; ok {
		return dp, nil
	}
	return nil, ErrDatapathNotFound
}

type fakeOVS struct {
	mappings map[string]string
	tags     map[string]int
}

func (f *fakeOVS) BridgeMappings() (map[string]string, error) {
	return f.mappings, nil
}

func (f *fakeOVS) GetPortTag(port string) (int, bool, error) {
	tag, ok := f.tags[port]
	return tag, ok, nil
}

func newTestHelper(sb *fakeSB, ovs *fakeOVS) *Helper {
	h := NewHelper(sb, ovs, "br-int", 1500, nil)
	h.retryDelay = time.Millisecond
	return h
}

func intPtr(v int) *int { return &v }

func TestOvnVlanTagLocalnet(t *testing.T) {
	sb := &fakeSB{tags: map[string]*int{"dp-1": intPtr(5)}}
	h := newTestHelper(sb, &fakeOVS{})

	vlan, err := h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)
	assert.Equal(t, 5, vlan)

	// Second call is served from cache.
	_, err = h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sb.nameAndTagCalls)
}

func TestOvnVlanTagPatchPortFallback(t *testing.T) {
	sb := &fakeSB{
		ports: map[string][]*PortBinding{
			"dp-1": {
				{LogicalPort: "lrp-net1", Type: PortTypePatch, Datapath: "dp-1"},
			},
		},
	}
	ovs := &fakeOVS{tags: map[string]int{"patch-lrp-net1-to-br-int": 7}}
	h := newTestHelper(sb, ovs)

	vlan, err := h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)
	assert.Equal(t, 7, vlan)
}

func TestOvnVlanTagRetriesThenSucceeds(t *testing.T) {
	// The tag shows up on the fourth attempt.
	sb := &fakeSB{tags: map[string]*int{"dp-1": intPtr(7)}, succeedAfter: 4}
	h := newTestHelper(sb, &fakeOVS{tags: map[string]int{}})

	vlan, err := h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)
	assert.Equal(t, 7, vlan)

	// Cached afterwards.
	calls := sb.nameAndTagCalls
	_, err = h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)
	assert.Equal(t, calls, sb.nameAndTagCalls)
}

func TestOvnVlanTagExhaustsRetries(t *testing.T) {
	h := newTestHelper(&fakeSB{}, &fakeOVS{})
	h.maxAttempts = 3

	_, err := h.OvnVlanTag(context.Background(), "dp-unknown")
	assert.ErrorIs(t, err, ErrPortNotFound)
}

func TestClearVlanCache(t *testing.T) {
	sb := &fakeSB{tags: map[string]*int{"dp-1": intPtr(5)}}
	h := newTestHelper(sb, &fakeOVS{})

	_, err := h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)

	h.ClearVlanCache("dp-1")
	_, err = h.OvnVlanTag(context.Background(), "dp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sb.nameAndTagCalls)
}

func TestGatewayIPsDropsInvalid(t *testing.T) {
	sb := &fakeSB{
		ports: map[string][]*PortBinding{
			"dp-1": {
				{
					LogicalPort: "lrp-net1",
					Type:        PortTypePatch,
					MAC:         []string{"aa:bb:cc:dd:ee:ff 10.0.0.1/24 fd00::1/64 10.0.0.9"},
				},
				{LogicalPort: "vm-1", Type: PortTypeVM, MAC: []string{"aa:aa:aa:aa:aa:aa 10.0.0.5"}},
			},
		},
	}
	h := newTestHelper(sb, &fakeOVS{})

	gateways := h.GatewayIPs(context.Background(), "dp-1")
	assert.Equal(t, []string{"10.0.0.1/24", "fd00::1/64"}, gateways)
}

func TestExtractPortInfo(t *testing.T) {
	info, ok := ExtractPortInfo(&PortBinding{MAC: []string{"aa:bb:cc:dd:ee:ff 10.0.0.2 fd00::2"}})
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", info.MAC)
	assert.Equal(t, []string{"10.0.0.2", "fd00::2"}, info.IPs)

	info, ok = ExtractPortInfo(&PortBinding{MAC: []string{"aa:bb:cc:dd:ee:ff"}})
	require.True(t, ok)
	assert.Empty(t, info.IPs)

	_, ok = ExtractPortInfo(&PortBinding{MAC: []string{"unknown"}})
	assert.False(t, ok)

	_, ok = ExtractPortInfo(&PortBinding{})
	assert.False(t, ok)

	_, ok = ExtractPortInfo(&PortBinding{MAC: []string{"   "}})
	assert.False(t, ok)
}

func TestParseTargetList(t *testing.T) {
	extIDs := map[string]string{
		RouteTargetsExtIDKey: `["64999:200", "64999:201"]`,
		ImportTargetsExtIDKey: "64999:300",
	}

	assert.Equal(t, []string{"64999:200", "64999:201"},
		ParseTargetList(extIDs, RouteTargetsExtIDKey))
	assert.Equal(t, []string{"64999:300"},
		ParseTargetList(extIDs, ImportTargetsExtIDKey))
	assert.Empty(t, ParseTargetList(extIDs, ExportTargetsExtIDKey))
}

func TestParseLocalPref(t *testing.T) {
	pref, ok := ParseLocalPref(map[string]string{LocalPrefExtIDKey: "120"})
	assert.True(t, ok)
	assert.Equal(t, 120, pref)

	_, ok = ParseLocalPref(map[string]string{LocalPrefExtIDKey: "abc"})
	assert.False(t, ok)

	_, ok = ParseLocalPref(map[string]string{})
	assert.False(t, ok)
}

func TestParseVNI(t *testing.T) {
	vni, ok := ParseVNI(map[string]string{VniExtIDKey: "200"})
	assert.True(t, ok)
	assert.Equal(t, uint32(200), vni)

	_, ok = ParseVNI(map[string]string{VniExtIDKey: "16777216"})
	assert.False(t, ok, "vni must fit in 24 bits")

	_, ok = ParseVNI(map[string]string{})
	assert.False(t, ok)
}

func TestParseRoutes(t *testing.T) {
	routes, err := ParseRoutes(map[string]string{
		RoutesExtIDKey: `[{"destination":"10.8.0.0/24","nexthop":"10.0.0.2"}]`,
	})
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.8.0.0/24", routes[0].Destination)
	assert.Equal(t, "10.0.0.2", routes[0].Nexthop)

	_, err = ParseRoutes(map[string]string{RoutesExtIDKey: "{broken"})
	assert.Error(t, err)

	routes, err = ParseRoutes(map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestNetworkMTU(t *testing.T) {
	h := newTestHelper(&fakeSB{}, &fakeOVS{})

	assert.Equal(t, 9000, h.NetworkMTU(&DatapathBinding{
		ExternalIDs: map[string]string{MTUExtIDKey: "9000"},
	}))
	assert.Equal(t, 1500, h.NetworkMTU(&DatapathBinding{}))

	h.defaultMTU = 0
	assert.Equal(t, 1500, h.NetworkMTU(nil))
}
