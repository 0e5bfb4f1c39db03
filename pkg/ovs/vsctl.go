// Package ovs wraps Open vSwitch operations using the ovs-vsctl command
// line tool.
package ovs

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// runner executes an ovs-vsctl invocation and returns its combined output.
// It exists so tests can substitute a fake for the real binary.
type runner func(args ...string) (string, error)

func execVsctl(args ...string) (string, error) {
	cmd := exec.Command("ovs-vsctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("ovs-vsctl %s: %s: %w",
			strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// Vsctl wraps OVS database operations on the integration bridge.
type Vsctl struct {
	logger *zap.Logger
	run    runner
}

// NewVsctl creates a new OVS wrapper.
func NewVsctl(logger *zap.Logger) *Vsctl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vsctl{logger: logger, run: execVsctl}
}

// ChassisID returns the OVN chassis name of this host
// (Open_vSwitch external_ids:system-id).
func (v *Vsctl) ChassisID() (string, error) {
	out, err := v.run("get", "Open_vSwitch", ".", "external_ids:system-id")
	if err != nil {
		return "", fmt.Errorf("failed to get chassis id: %w", err)
	}
	return strings.Trim(strings.TrimSpace(out), `"`), nil
}

// OvnRemote returns the OVN southbound connection string configured on the
// local OVS instance (external_ids:ovn-remote).
func (v *Vsctl) OvnRemote() (string, error) {
	out, err := v.run("get", "Open_vSwitch", ".", "external_ids:ovn-remote")
	if err != nil {
		return "", fmt.Errorf("failed to get ovn-remote: %w", err)
	}
	return strings.Trim(strings.TrimSpace(out), `"`), nil
}

// BridgeMappings returns the OVN bridge mappings as physnet -> bridge
// (external_ids:ovn-bridge-mappings, format "physnet1:br-ex,physnet2:br-vlan").
func (v *Vsctl) BridgeMappings() (map[string]string, error) {
	out, err := v.run("get", "Open_vSwitch", ".", "external_ids:ovn-bridge-mappings")
	if err != nil {
		// The key is optional; hosts without provider networks have none.
		return map[string]string{}, nil
	}
	return parseBridgeMappings(out), nil
}

func parseBridgeMappings(raw string) map[string]string {
	mappings := make(map[string]string)
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return mappings
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			mappings[parts[0]] = parts[1]
		}
	}
	return mappings
}

// ListPorts returns the ports of an OVS bridge.
func (v *Vsctl) ListPorts(bridge string) ([]string, error) {
	out, err := v.run("list-ports", bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports on %s: %w", bridge, err)
	}

	var ports []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ports = append(ports, line)
		}
	}
	return ports, nil
}

// EnsureInternalPort adds an internal-type port to the bridge if missing.
func (v *Vsctl) EnsureInternalPort(bridge, port string) error {
	_, err := v.run("--may-exist", "add-port", bridge, port,
		"--", "set", "interface", port, "type=internal")
	if err != nil {
		return fmt.Errorf("failed to add internal port %s to %s: %w", port, bridge, err)
	}
	v.logger.Debug("ensured internal port",
		zap.String("bridge", bridge),
		zap.String("port", port),
	)
	return nil
}

// EnsurePort adds a plain port (e.g. a veth endpoint) to the bridge.
func (v *Vsctl) EnsurePort(bridge, port string) error {
	if _, err := v.run("--may-exist", "add-port", bridge, port); err != nil {
		return fmt.Errorf("failed to add port %s to %s: %w", port, bridge, err)
	}
	return nil
}

// DeletePort removes a port from the bridge; a missing port is success.
func (v *Vsctl) DeletePort(bridge, port string) error {
	if _, err := v.run("--if-exists", "del-port", bridge, port); err != nil {
		return fmt.Errorf("failed to delete port %s from %s: %w", port, bridge, err)
	}
	return nil
}

// SetPortTag sets the 802.1q access tag on an OVS port.
func (v *Vsctl) SetPortTag(port string, tag int) error {
	if _, err := v.run("set", "port", port, fmt.Sprintf("tag=%d", tag)); err != nil {
		return fmt.Errorf("failed to set tag %d on port %s: %w", tag, port, err)
	}
	return nil
}

// GetPortTag reads the access tag of an OVS port. It returns (0, false, nil)
// when the port has no tag set.
func (v *Vsctl) GetPortTag(port string) (int, bool, error) {
	out, err := v.run("get", "Port", port, "tag")
	if err != nil {
		return 0, false, fmt.Errorf("failed to get tag of port %s: %w", port, err)
	}

	tag, ok := parsePortTag(out)
	return tag, ok, nil
}

// parsePortTag handles the textual forms OVS uses for an optional integer
// column: "100", "[]", "set()" and "set(100)".
func parsePortTag(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "[]" || s == "set()" {
		return 0, false
	}
	s = strings.TrimPrefix(s, "set(")
	s = strings.TrimSuffix(s, ")")
	s = strings.TrimSpace(s)

	tag, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return tag, true
}
