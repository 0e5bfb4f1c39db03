package evpn

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the driver's reconciliation state to Prometheus.
type Metrics struct {
	SyncTotal    prometheus.Counter
	SyncErrors   prometheus.Counter
	SyncDuration prometheus.Histogram
	LastSync     prometheus.Gauge

	Networks        *prometheus.GaugeVec
	VRFs            prometheus.Gauge
	Ports           prometheus.Gauge
	FdbEntries      prometheus.Gauge
	NeighborEntries prometheus.Gauge

	VlanAllocated   prometheus.Gauge
	VlanFree        prometheus.Gauge
	VlanAllocations prometheus.Gauge
	VlanReleases    prometheus.Gauge
	VlanConflicts   prometheus.Gauge
}

// NewMetrics creates and registers the driver metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evpn_sync_total",
			Help: "Number of full reconciliation runs.",
		}),
		SyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evpn_sync_errors_total",
			Help: "Number of failed reconciliation runs and event handlers.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evpn_sync_duration_seconds",
			Help:    "Duration of full reconciliation runs.",
			Buckets: prometheus.DefBuckets,
		}),
		LastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful reconciliation.",
		}),
		Networks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evpn_networks",
			Help: "Number of exposed EVPN networks by type.",
		}, []string{"type"}),
		VRFs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_vrfs",
			Help: "Number of kernel VRFs managed by the agent.",
		}),
		Ports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_ports",
			Help: "Number of tracked logical ports.",
		}),
		FdbEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_fdb_entries",
			Help: "Number of seeded static FDB entries.",
		}),
		NeighborEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_neighbor_entries",
			Help: "Number of seeded static neighbor entries.",
		}),
		VlanAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_vlan_allocated",
			Help: "Number of bridge VLANs currently allocated.",
		}),
		VlanFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_vlan_free",
			Help: "Number of free bridge VLANs.",
		}),
		VlanAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_vlan_allocations_total",
			Help: "Cumulative VLAN allocations.",
		}),
		VlanReleases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_vlan_releases_total",
			Help: "Cumulative VLAN releases.",
		}),
		VlanConflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evpn_vlan_conflicts_total",
			Help: "Cumulative preferred-VLAN conflicts.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SyncTotal, m.SyncErrors, m.SyncDuration, m.LastSync,
			m.Networks, m.VRFs, m.Ports, m.FdbEntries, m.NeighborEntries,
			m.VlanAllocated, m.VlanFree,
			m.VlanAllocations, m.VlanReleases, m.VlanConflicts,
		)
	}
	return m
}
