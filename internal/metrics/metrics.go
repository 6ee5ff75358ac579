// Package metrics exposes protocol-level counters and gauges via
// prometheus/client_golang, the way runZeroInc-sockstats exposes socket
// counters and caddyserver/caddy exposes subsystem counters: one
// *prometheus.Registry per process, handed to every subsystem that needs
// to increment something.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge the core touches. It is created
// once per eigrp.AS and threaded through the constructors of transport,
// neighbor, dual and routesink, mirroring the teacher's counter.Counter
// being embedded wherever an error needed tallying.
type Registry struct {
	reg *prometheus.Registry

	PacketsDecoded    *prometheus.CounterVec // by interface, opcode
	PacketsDropped    *prometheus.CounterVec // by interface, reason
	Retransmits       *prometheus.CounterVec // by neighbor
	NeighborUp        *prometheus.CounterVec // by interface
	NeighborDown      *prometheus.CounterVec // by interface, reason
	ActivePrefixes    prometheus.Gauge
	FIBInstalls       prometheus.Counter
	FIBWithdraws      prometheus.Counter
	FIBInstallFailure prometheus.Counter
}

// New creates a Registry and registers all of its collectors.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.PacketsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "packets_decoded_total",
		Help:      "EIGRP packets successfully decoded, by interface and opcode.",
	}, []string{"interface", "opcode"})

	r.PacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "packets_dropped_total",
		Help:      "EIGRP packets dropped, by interface and reason.",
	}, []string{"interface", "reason"})

	r.Retransmits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "retransmits_total",
		Help:      "Reliable-transport retransmissions sent, by neighbor.",
	}, []string{"neighbor"})

	r.NeighborUp = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "neighbor_up_total",
		Help:      "Neighbor adjacencies that reached the UP state, by interface.",
	}, []string{"interface"})

	r.NeighborDown = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "neighbor_down_total",
		Help:      "Neighbor adjacencies torn down, by interface and reason.",
	}, []string{"interface", "reason"})

	r.ActivePrefixes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eigrp",
		Name:      "active_prefixes",
		Help:      "Number of prefixes currently in a DUAL ACTIVE state.",
	})

	r.FIBInstalls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "fib_installs_total",
		Help:      "Successful route-sink installs.",
	})

	r.FIBWithdraws = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "fib_withdraws_total",
		Help:      "Successful route-sink withdraws.",
	})

	r.FIBInstallFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eigrp",
		Name:      "fib_install_failures_total",
		Help:      "Route-sink installs that returned an error and were left for retry.",
	})

	r.reg.MustRegister(
		r.PacketsDecoded, r.PacketsDropped, r.Retransmits,
		r.NeighborUp, r.NeighborDown, r.ActivePrefixes,
		r.FIBInstalls, r.FIBWithdraws, r.FIBInstallFailure,
	)
	return r
}

// Registerer exposes the underlying registry so a caller can register
// additional collectors on it.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the underlying registry for scraping; cmd/eigrpd serves
// it over /metrics, so this package does not depend on net/http.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
