// Package routesink bridges DUAL's successor decisions onto the external
// forwarding table, idempotently: it only calls the injected FIBInstaller
// when the installed (next hop, metric) for a prefix actually changes.
// This mirrors the teacher's rib package's conceptual separation between
// locally selected routes (Loc-RIB) and the forwarding table an
// implementation eventually programs from it.
package routesink

import (
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/internal/eigrplog"
	"github.com/gsim047/eigrpd/internal/fibshadow"
	"github.com/gsim047/eigrpd/internal/metrics"
	"github.com/gsim047/eigrpd/topology"
)

// FIBInstaller installs and withdraws routes from the system (or test
// double) forwarding table; its shape matches the external collaborator
// interface this module is built against.
type FIBInstaller interface {
	Install(prefix netip.Prefix, nextHop netip.Addr, metric uint32) error
	Withdraw(prefix netip.Prefix) error
}

type installed struct {
	nextHop netip.Addr
	metric  uint32
}

// Sink is an idempotent FIBInstaller wrapper driven by DUAL's successor
// notifications (§4.F).
type Sink struct {
	mu     sync.Mutex
	fib    FIBInstaller
	state  map[netip.Prefix]installed
	shadow *fibshadow.Tree

	metrics *metrics.Registry
	log     *zap.Logger
}

// New creates a Sink over fib.
func New(fib FIBInstaller, m *metrics.Registry, log *zap.Logger) *Sink {
	if log == nil {
		log = eigrplog.Nop()
	}
	return &Sink{
		fib:     fib,
		state:   make(map[netip.Prefix]installed),
		shadow:  fibshadow.New(),
		metrics: m,
		log:     log.Named("routesink"),
	}
}

// BestMatch performs a longest-prefix-match lookup against the routes this
// Sink currently believes are installed, for diagnostics (e.g. a "show ip
// route" command) without re-reading the real forwarding table.
func (s *Sink) BestMatch(addr netip.Addr) (netip.Prefix, netip.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shadow.Lookup(addr)
}

// NextHop is the next-hop address to install for a successor
// neighbor-entry. The topology package tracks neighbors by id, not
// address, so the caller (which does know the neighbor's address) supplies
// it directly rather than this package reaching back into the neighbor
// package — keeping the dependency direction routesink -> topology only.
type NextHop struct {
	Addr   netip.Addr
	Metric uint32
}

// SuccessorChanged installs (or re-installs, if the next hop or metric
// changed) the forwarding entry for prefix. It is a no-op if the entry is
// already installed identically (§4.F: "idempotent - do not reprogram the
// FIB with the same (next_hop, metric) pair").
func (s *Sink) SuccessorChanged(prefix netip.Prefix, succ *topology.NeighborEntry, nh NextHop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := installed{nextHop: nh.Addr, metric: nh.Metric}
	if have, ok := s.state[prefix]; ok && have == want {
		return
	}

	if err := s.fib.Install(prefix, nh.Addr, nh.Metric); err != nil {
		s.log.Warn("FIB install failed", zap.Stringer("prefix", prefix), zap.Error(err))
		if s.metrics != nil {
			s.metrics.FIBInstallFailure.Inc()
		}
		return
	}
	s.state[prefix] = want
	s.shadow.Insert(prefix, nh.Addr)
	if s.metrics != nil {
		s.metrics.FIBInstalls.Inc()
	}
}

// SuccessorLost withdraws prefix from the forwarding table, if installed.
func (s *Sink) SuccessorLost(prefix netip.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state[prefix]; !ok {
		return
	}
	if err := s.fib.Withdraw(prefix); err != nil {
		s.log.Warn("FIB withdraw failed", zap.Stringer("prefix", prefix), zap.Error(err))
		return
	}
	delete(s.state, prefix)
	s.shadow.Delete(prefix)
	if s.metrics != nil {
		s.metrics.FIBWithdraws.Inc()
	}
}

// Installed reports the currently installed next hop for prefix, for tests
// and diagnostics.
func (s *Sink) Installed(prefix netip.Prefix) (NextHop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[prefix]
	return NextHop{Addr: v.nextHop, Metric: v.metric}, ok
}
