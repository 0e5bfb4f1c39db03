// Package frr renders and applies BGP EVPN configuration for FRRouting.
package frr

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
)

// VrfConfig carries the parameters for one VRF's BGP EVPN configuration.
type VrfConfig struct {
	VrfName             string
	VNI                 uint32
	BgpAS               string
	RouteTargets        []string
	RouteDistinguishers []string
	ImportTargets       []string
	ExportTargets       []string
	LocalIP             string
	LocalPref           int
	Redistribute        []string
}

// routeMapName is the local-preference route map attached to the VRF's BGP
// instance when LocalPref is set.
func (c VrfConfig) routeMapName() string {
	return fmt.Sprintf("%s-local-pref", c.VrfName)
}

const addVrfTemplate = `vrf {{ .VrfName }}
  vni {{ .VNI }}
exit-vrf

{{ if gt .LocalPref 0 -}}
route-map {{ .RouteMap }} permit 10
  set local-preference {{ .LocalPref }}
exit

{{ end -}}
router bgp {{ .BgpAS }} vrf {{ .VrfName }}
{{- if gt .LocalPref 0 }}
  neighbor evpn-peers peer-group
{{- end }}
  address-family ipv4 unicast
{{- range .Redistribute }}
    redistribute {{ . }}
{{- end }}
{{- if gt .LocalPref 0 }}
    neighbor evpn-peers route-map {{ .RouteMap }} in
{{- end }}
  exit-address-family
  address-family ipv6 unicast
{{- range .Redistribute }}
    redistribute {{ . }}
{{- end }}
{{- if gt .LocalPref 0 }}
    neighbor evpn-peers route-map {{ .RouteMap }} in
{{- end }}
  exit-address-family
  address-family l2vpn evpn
    advertise ipv4 unicast
    advertise ipv6 unicast
{{- if .RouteDistinguishers }}
    rd {{ index .RouteDistinguishers 0 }}
{{- else }}
    rd {{ .LocalIP }}:{{ .VNI }}
{{- end }}
{{- range .RouteTargets }}
    route-target import {{ . }}
    route-target export {{ . }}
{{- end }}
{{- range .ExportTargets }}
    route-target export {{ . }}
{{- end }}
{{- range .ImportTargets }}
    route-target import {{ . }}
{{- end }}
  exit-address-family
`

const delVrfTemplate = `no vrf {{ .VrfName }}
no router bgp {{ .BgpAS }} vrf {{ .VrfName }}
{{- if gt .LocalPref 0 }}
no route-map {{ .RouteMap }}
{{- end }}
`

const leakVrfTemplate = `router bgp {{ .BgpAS }}
  address-family ipv4 unicast
    import vrf {{ .VrfName }}
  exit-address-family
  address-family ipv6 unicast
    import vrf {{ .VrfName }}
  exit-address-family

router bgp {{ .BgpAS }} vrf {{ .VrfName }}
  bgp router-id {{ .RouterID }}
  address-family ipv4 unicast
    import vrf default
{{- range .Redistribute }}
    redistribute {{ . }}
{{- end }}
  exit-address-family
  address-family ipv6 unicast
    import vrf default
{{- range .Redistribute }}
    redistribute {{ . }}
{{- end }}
  exit-address-family
`

const baseConfigTemplate = `router bgp {{ .BgpAS }}
  address-family l2vpn evpn
    advertise-all-vni
  exit-address-family
`

var (
	addVrfTmpl  = template.Must(template.New("add-vrf").Parse(addVrfTemplate))
	delVrfTmpl  = template.Must(template.New("del-vrf").Parse(delVrfTemplate))
	leakVrfTmpl = template.Must(template.New("vrf-leak").Parse(leakVrfTemplate))
	baseTmpl    = template.Must(template.New("base").Parse(baseConfigTemplate))
)

// defaultRedistribute is applied when a VrfConfig does not set its own.
var defaultRedistribute = []string{"connected"}

// Emitter renders VRF configuration and applies it through vtysh.
type Emitter struct {
	vtysh  Vtysh
	logger *zap.Logger

	// bgpAS is the configured default AS, may be empty (discovered from FRR).
	bgpAS string
}

// NewEmitter creates an FRR configuration emitter.
func NewEmitter(vtysh Vtysh, bgpAS string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		vtysh:  vtysh,
		logger: logger,
		bgpAS:  bgpAS,
	}
}

type addVrfParams struct {
	VrfConfig
	RouteMap string
}

// AddVrf declares the VRF, its VNI and the VRF-scoped BGP EVPN instance.
func (e *Emitter) AddVrf(cfg VrfConfig) error {
	e.normalize(&cfg)

	var buf strings.Builder
	if err := addVrfTmpl.Execute(&buf, addVrfParams{VrfConfig: cfg, RouteMap: cfg.routeMapName()}); err != nil {
		return fmt.Errorf("failed to render add-vrf for %s: %w", cfg.VrfName, err)
	}

	e.logger.Info("applying frr vrf configuration",
		zap.String("vrf", cfg.VrfName),
		zap.Uint32("vni", cfg.VNI),
	)
	return e.vtysh.ApplyConfig(buf.String())
}

// DelVrf removes the VRF, its BGP instance and the local-pref route map.
func (e *Emitter) DelVrf(cfg VrfConfig) error {
	e.normalize(&cfg)

	var buf strings.Builder
	if err := delVrfTmpl.Execute(&buf, addVrfParams{VrfConfig: cfg, RouteMap: cfg.routeMapName()}); err != nil {
		return fmt.Errorf("failed to render del-vrf for %s: %w", cfg.VrfName, err)
	}

	e.logger.Info("removing frr vrf configuration", zap.String("vrf", cfg.VrfName))
	return e.vtysh.ApplyConfig(buf.String())
}

type leakVrfParams struct {
	VrfName      string
	BgpAS        string
	RouterID     string
	Redistribute []string
}

// LeakVrf imports the VRF's routes into the global BGP instance and vice
// versa. When routerID is empty it is resolved from the running FRR daemon.
func (e *Emitter) LeakVrf(vrfName, bgpAS, routerID string) error {
	if bgpAS == "" {
		var err error
		if bgpAS, err = e.asn(); err != nil {
			return err
		}
	}
	if routerID == "" {
		var err error
		if routerID, err = e.routerID(); err != nil {
			return err
		}
	}

	var buf strings.Builder
	params := leakVrfParams{
		VrfName:      vrfName,
		BgpAS:        bgpAS,
		RouterID:     routerID,
		Redistribute: defaultRedistribute,
	}
	if err := leakVrfTmpl.Execute(&buf, params); err != nil {
		return fmt.Errorf("failed to render vrf-leak for %s: %w", vrfName, err)
	}

	e.logger.Info("applying frr vrf leak",
		zap.String("vrf", vrfName),
		zap.String("router_id", routerID),
	)
	return e.vtysh.ApplyConfig(buf.String())
}

// EnsureBaseConfig enables advertise-all-vni under the global BGP instance.
// It is a no-op when no AS number is known.
func (e *Emitter) EnsureBaseConfig() error {
	bgpAS, err := e.asn()
	if err != nil {
		e.logger.Warn("skipping base evpn configuration", zap.Error(err))
		return nil
	}

	var buf strings.Builder
	if err := baseTmpl.Execute(&buf, struct{ BgpAS string }{BgpAS: bgpAS}); err != nil {
		return fmt.Errorf("failed to render base config: %w", err)
	}
	return e.vtysh.ApplyConfig(buf.String())
}

func (e *Emitter) normalize(cfg *VrfConfig) {
	if cfg.BgpAS == "" {
		cfg.BgpAS = e.bgpAS
	}
	if len(cfg.Redistribute) == 0 {
		cfg.Redistribute = defaultRedistribute
	}
}

// routerID reads the IPv4 unicast router id from the BGP summary.
func (e *Emitter) routerID() (string, error) {
	out, err := e.vtysh.Run("show ip bgp summary json")
	if err != nil {
		return "", fmt.Errorf("failed to query bgp summary: %w", err)
	}

	var summary struct {
		IPv4Unicast struct {
			RouterID string `json:"routerId"`
		} `json:"ipv4Unicast"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		return "", fmt.Errorf("failed to parse bgp summary: %w", err)
	}
	if summary.IPv4Unicast.RouterID == "" {
		return "", ErrUnknownRouterID
	}
	return summary.IPv4Unicast.RouterID, nil
}

// asn returns the configured AS number, falling back to the running FRR
// configuration.
func (e *Emitter) asn() (string, error) {
	if e.bgpAS != "" {
		return e.bgpAS, nil
	}

	out, err := e.vtysh.Run("show running-config")
	if err != nil {
		return "", fmt.Errorf("failed to read running config: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "router" && fields[1] == "bgp" {
			return fields[2], nil
		}
	}
	return "", ErrUnknownAS
}
