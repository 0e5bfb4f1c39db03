package frr

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Vtysh runs FRR configuration and show commands. The agent only ever talks
// to FRR through this interface so tests can capture the applied config.
type Vtysh interface {
	// ApplyConfig applies a multi-line configuration atomically.
	ApplyConfig(config string) error

	// Run executes a single show command and returns its output.
	Run(command string) (string, error)
}

// ExecVtysh invokes the privileged vtysh binary.
type ExecVtysh struct{}

// NewExecVtysh creates a vtysh runner backed by the local FRR daemon.
func NewExecVtysh() *ExecVtysh {
	return &ExecVtysh{}
}

// ApplyConfig writes the configuration to a temporary file and applies it
// with vtysh -f. The file is removed regardless of the outcome.
func (v *ExecVtysh) ApplyConfig(config string) error {
	f, err := os.CreateTemp("", "frr-evpn-*.conf")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(config); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}

	cmd := exec.Command("vtysh", "-f", f.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("vtysh -f failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Run executes vtysh -c <command>.
func (v *ExecVtysh) Run(command string) (string, error) {
	cmd := exec.Command("vtysh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("vtysh -c %q failed: %s: %w",
			command, strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
