// Package agent wires the EVPN driver to the host: configuration, VTEP
// discovery, EVPN bridge prerequisites, the OVN southbound connection and
// the periodic reconciliation workers.
package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ovn-evpn-agent/pkg/dataplane"
	"ovn-evpn-agent/pkg/evpn"
	"ovn-evpn-agent/pkg/frr"
	"ovn-evpn-agent/pkg/ovn"
	"ovn-evpn-agent/pkg/ovs"
)

// Agent is the on-node OVN EVPN agent.
type Agent struct {
	config Config
	logger *zap.Logger

	// instanceID identifies this agent process in logs.
	instanceID string

	dp       dataplane.Dataplane
	vsctl    *ovs.Vsctl
	frr      *frr.Emitter
	sb       *ovn.Client
	registry *prometheus.Registry
	metrics  *evpn.Metrics

	// Populated by Start; guarded by the ready latch.
	helper *ovn.Helper
	driver *evpn.Driver

	chassis string
	vtepIP  net.IP

	metricsSrv *http.Server

	// ready is closed once the southbound connection and the driver are
	// initialized. Accessors block on it instead of observing nil handles.
	ready chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the agent. The southbound connection is not opened until
// Start.
func New(config Config, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &Agent{
		config:     config,
		logger:     logger,
		instanceID: uuid.NewString(),
		dp:         dataplane.NewNetlinkDataplane(logger.Named("dataplane")),
		vsctl:      ovs.NewVsctl(logger.Named("ovs")),
		registry:   registry,
		metrics:    evpn.NewMetrics(registry),
		ready:      make(chan struct{}),
	}
	a.frr = frr.NewEmitter(frr.NewExecVtysh(), config.Evpn.BgpAS, logger.Named("frr"))
	return a, nil
}

// Start brings up prerequisites, connects to the OVN southbound database,
// runs the initial sync and launches the periodic workers.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.logger.Info("starting ovn evpn agent",
		zap.String("instance_id", a.instanceID),
		zap.String("exposing_method", a.config.ExposingMethod),
	)

	chassis, err := a.vsctl.ChassisID()
	if err != nil {
		return fmt.Errorf("failed to determine chassis: %w", err)
	}
	a.chassis = chassis

	vtepIP, err := a.resolveVtepIP()
	if err != nil {
		return err
	}
	a.vtepIP = vtepIP
	a.logger.Info("resolved vtep",
		zap.String("chassis", chassis),
		zap.String("vtep_ip", vtepIP.String()),
	)

	if err := a.ensurePrerequisites(); err != nil {
		return fmt.Errorf("failed to set up evpn prerequisites: %w", err)
	}

	if a.config.ClearVrfRoutesOnStartup {
		a.logger.Info("clearing vrf routes", zap.Int("table", a.config.BgpVrfTableID))
		if err := a.dp.FlushRoutes(a.config.BgpVrfTableID); err != nil {
			a.logger.Warn("failed to clear vrf routes", zap.Error(err))
		}
	}

	sbEndpoint := a.config.OvnSBConnection
	if sbEndpoint == "" {
		if sbEndpoint, err = a.vsctl.OvnRemote(); err != nil {
			return fmt.Errorf("failed to discover southbound endpoint: %w", err)
		}
	}

	a.sb = ovn.NewClient(sbEndpoint, a.config.OvsdbConnectionTimeout, a.logger.Named("sb"))
	a.helper = ovn.NewHelper(a.sb, a.vsctl, a.config.Evpn.OvsBridge,
		a.config.NetworkDeviceMTU, a.logger.Named("ovn-helper"))

	netmgr := evpn.NewNetworkManager(a.config.Evpn, a.dp, a.vsctl, a.frr,
		a.helper, a.logger.Named("netmgr"))
	a.driver = evpn.NewDriver(evpn.DriverParams{
		Config:      a.config.Evpn,
		Chassis:     chassis,
		LocalVtepIP: vtepIP,
		SB:          a.sb,
		Helper:      a.helper,
		NetManager:  netmgr,
		Allocator: evpn.NewVlanAllocator(a.config.Evpn.VlanRangeMin,
			a.config.Evpn.VlanRangeMax, a.logger.Named("vlan")),
		Fdb: evpn.NewFdbManager(a.dp, a.config.Evpn.StaticFdb,
			a.config.Evpn.StaticNeighbors, a.logger.Named("fdb")),
		Frr:       a.frr,
		Dataplane: a.dp,
		Metrics:   a.metrics,
		Logger:    a.logger.Named("driver"),
	})

	// Events must be registered before the monitor starts so no row change
	// is missed between the initial dump and the first dispatch.
	a.sb.OnPortBinding(a.driver.HandlePortBinding)
	if err := a.sb.Connect(ctx); err != nil {
		return err
	}
	close(a.ready)

	if err := a.driver.Sync(ctx); err != nil {
		a.logger.Error("initial sync failed", zap.Error(err))
	}

	a.startMetricsServer()

	a.wg.Add(2)
	go a.syncLoop(ctx)
	go a.frrSyncLoop(ctx)

	a.logger.Info("agent started")
	return nil
}

// Stop shuts down the workers and disconnects from the database.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	a.logger.Info("stopping agent")
	cancel()
	a.wg.Wait()

	if a.metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}

	if a.sb != nil {
		a.sb.Close()
	}
	a.logger.Info("agent stopped")
	return nil
}

// Driver returns the EVPN driver, blocking until Start has initialized it.
func (a *Agent) Driver() *evpn.Driver {
	<-a.ready
	return a.driver
}

// SB returns the southbound client, blocking until Start has connected it.
func (a *Agent) SB() *ovn.Client {
	<-a.ready
	return a.sb
}

// ensurePrerequisites sets up the host-wide EVPN plumbing: the VLAN-aware
// bridge, the veth pair into OVS and the base FRR configuration.
func (a *Agent) ensurePrerequisites() error {
	cfg := a.config.Evpn

	if _, err := a.dp.EnsureBridge(cfg.EvpnBridge); err != nil {
		return err
	}
	if err := a.dp.SetUp(cfg.EvpnBridge); err != nil {
		return err
	}

	if _, err := a.dp.EnsureVeth(cfg.EvpnBridgeVeth, cfg.EvpnOvsVeth); err != nil {
		return err
	}
	if err := a.dp.SetMaster(cfg.EvpnBridgeVeth, cfg.EvpnBridge); err != nil {
		return err
	}
	if err := a.dp.SetUp(cfg.EvpnBridgeVeth); err != nil {
		return err
	}
	if err := a.dp.SetUp(cfg.EvpnOvsVeth); err != nil {
		return err
	}
	if err := a.vsctl.EnsurePort(cfg.OvsBridge, cfg.EvpnOvsVeth); err != nil {
		return err
	}

	if err := a.frr.EnsureBaseConfig(); err != nil {
		a.logger.Warn("failed to apply base frr config", zap.Error(err))
	}

	a.logger.Info("evpn prerequisites ready",
		zap.String("bridge", cfg.EvpnBridge),
		zap.String("veth", cfg.EvpnBridgeVeth),
	)
	return nil
}

// resolveVtepIP picks the VXLAN tunnel endpoint: the configured address,
// then the configured NIC's first global IPv4, then a non-loopback address
// on lo.
func (a *Agent) resolveVtepIP() (net.IP, error) {
	if a.config.EvpnLocalIP != "" {
		ip := net.ParseIP(a.config.EvpnLocalIP)
		if ip == nil {
			return nil, fmt.Errorf("%w: evpn_local_ip %q", ErrConfigInvalid, a.config.EvpnLocalIP)
		}
		return ip, nil
	}

	if a.config.EvpnNIC != "" {
		if ip := a.firstGlobalIPv4(a.config.EvpnNIC); ip != nil {
			return ip, nil
		}
		a.logger.Warn("no usable address on configured nic",
			zap.String("nic", a.config.EvpnNIC))
	}

	if ip := a.firstGlobalIPv4("lo"); ip != nil {
		return ip, nil
	}
	return nil, fmt.Errorf("%w: set evpn_local_ip or evpn_nic", ErrVtepNotFound)
}

func (a *Agent) firstGlobalIPv4(device string) net.IP {
	addrs, err := a.dp.InterfaceAddrs(device)
	if err != nil {
		a.logger.Debug("failed to list addresses",
			zap.String("device", device),
			zap.Error(err),
		)
		return nil
	}
	for _, ip := range addrs {
		if ip.To4() == nil || ip.IsLoopback() {
			continue
		}
		return ip
	}
	return nil
}

func (a *Agent) startMetricsServer() {
	if a.config.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{Addr: a.config.MetricsAddr, Handler: mux}

	go func() {
		a.logger.Info("metrics listening", zap.String("addr", a.config.MetricsAddr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// syncLoop runs the full reconciliation on a timer and on demand.
func (a *Agent) syncLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.driver.SyncRequests():
		}

		if err := a.driver.Sync(ctx); err != nil {
			a.logger.Error("periodic sync failed", zap.Error(err))
		}
	}
}

// frrSyncLoop re-applies the FRR configuration so it survives FRR restarts.
func (a *Agent) frrSyncLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FrrReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.driver.FrrSync(ctx)
		}
	}
}
