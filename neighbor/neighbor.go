// Package neighbor implements the per-neighbor finite state machine (§4.C):
// DOWN/PENDING/UP, Hello-driven discovery, the INIT handshake, holddown
// expiry, and graceful-restart handling.
//
// The state/event dispatch shape is grounded in the teacher's prototype
// fsm.go (a state-indexed switch over incoming events) and in
// bgp/speaker.go's sendEvent-based FSM plumbing; the timer values and
// jitter helper are grounded in the teacher's timers.go.
package neighbor

import (
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/internal/eigrplog"
	"github.com/gsim047/eigrpd/internal/metrics"
	"github.com/gsim047/eigrpd/internal/xtimer"
	"github.com/gsim047/eigrpd/packet"
	"github.com/gsim047/eigrpd/topology"
)

// State is a neighbor's discovery/liveness state (§4.C).
type State int

const (
	Down State = iota
	Pending
	Up
)

func (s State) String() string {
	switch s {
	case Down:
		return "DOWN"
	case Pending:
		return "PENDING"
	case Up:
		return "UP"
	default:
		return "UNKNOWN"
	}
}

// jitter scales a hold/hello interval by a uniform factor in [0.75, 1.0),
// the same spreading technique the teacher's timers.go applies to BGP's
// ConnectRetryTimer and KeepaliveTimer.
func jitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.25
	return time.Duration(float64(d) * factor)
}

// Notifier is how a Neighbor's FSM emits outbound packets and lifecycle
// events; the eigrp package wires this to its interface transmit path.
type Notifier interface {
	SendInit(n *Neighbor)
	SendHello(n *Neighbor, holdTime time.Duration)
	NeighborUp(n *Neighbor)
	NeighborDown(n *Neighbor, reason string)
	PeerRestarted(n *Neighbor)
}

// Neighbor tracks one adjacency on one interface.
type Neighbor struct {
	ID             topology.NeighborID
	Addr           netip.Addr
	InterfaceIndex int

	State   State
	K       topology.KValues
	HoldTime time.Duration

	holdTimer *xtimer.Timer
	notifier  Notifier
	log       *zap.Logger
	metrics   *metrics.Registry

	lastSeq uint32

	// cryptSeq is the last AUTH TLV key_sequence accepted from this
	// neighbor (§3: "crypto sequence number (replay guard, monotonic)").
	// A packet whose key_sequence does not exceed this is a replay.
	cryptSeq uint32

	// restarting is true between observing the peer's RS flag and the
	// matching End-of-Table marker (§4.C graceful restart).
	restarting bool

	// grSnapshot holds the prefixes previously learned from this neighbor
	// at the moment a graceful restart began; each is cleared as the peer
	// re-advertises it, and whatever remains at EOT is stale and must be
	// poisoned (§4.C).
	grSnapshot map[netip.Prefix]struct{}
}

// Config bundles a Neighbor's construction parameters.
type Config struct {
	ID             topology.NeighborID
	Addr           netip.Addr
	InterfaceIndex int
	HoldTime       time.Duration
	Notifier       Notifier
	Log            *zap.Logger
	Metrics        *metrics.Registry
}

// New creates a neighbor in the DOWN state. It does not start any timers;
// call HandleHello to drive discovery.
func New(cfg Config) *Neighbor {
	log := cfg.Log
	if log == nil {
		log = eigrplog.Nop()
	}
	n := &Neighbor{
		ID:             cfg.ID,
		Addr:           cfg.Addr,
		InterfaceIndex: cfg.InterfaceIndex,
		HoldTime:       cfg.HoldTime,
		notifier:       cfg.Notifier,
		log:            log.Named("neighbor").With(zap.Stringer("addr", cfg.Addr)),
		metrics:        cfg.Metrics,
	}
	return n
}

// HandleHello processes a received Hello from this neighbor (§4.C: "A Hello
// with matching K-values from an unknown source address moves a neighbor
// from nonexistent to PENDING").
func (n *Neighbor) HandleHello(remoteK topology.KValues, holdTime time.Duration) error {
	if n.State != Down && !kValuesEqual(n.K, remoteK) {
		n.log.Warn("K-value mismatch, tearing down adjacency")
		n.teardown("KMismatch")
		return fmt.Errorf("%w: from %s", packet.ErrKMismatch, n.Addr)
	}
	n.K = remoteK
	n.HoldTime = holdTime

	switch n.State {
	case Down:
		n.log.Info("neighbor discovered, sending INIT")
		n.State = Pending
		n.notifier.SendInit(n)
		n.armHoldTimer()
	case Pending, Up:
		n.armHoldTimer()
	}
	return nil
}

// HandleInitUpdate processes an inbound Update with the INIT flag set. For
// a PENDING neighbor this completes the three-way handshake (§4.C). For an
// UP neighbor it is the peer-restart event (§4.C: "inbound Update with INIT
// flag while we are UP ⇒ transition UP→DOWN→PENDING, discard pending
// retransmits, resend INIT").
func (n *Neighbor) HandleInitUpdate() {
	switch n.State {
	case Pending:
		n.log.Info("neighbor adjacency established")
		n.State = Up
		if n.metrics != nil {
			n.metrics.NeighborUp.WithLabelValues(ifaceLabel(n.InterfaceIndex)).Inc()
		}
		n.notifier.NeighborUp(n)
	case Up:
		n.log.Info("peer restart detected, resetting adjacency")
		n.State = Down
		if n.metrics != nil {
			n.metrics.NeighborDown.WithLabelValues(ifaceLabel(n.InterfaceIndex), "PeerRestart").Inc()
		}
		n.notifier.PeerRestarted(n)
		n.State = Pending
		n.notifier.SendInit(n)
	}
}

// HandleHoldTimerExpired is invoked by the scheduler when the neighbor's
// hold timer fires without a renewing Hello (§4.C).
func (n *Neighbor) HandleHoldTimerExpired() {
	if n.State == Down {
		return
	}
	n.log.Warn("hold timer expired")
	n.teardown("HoldTimerExpired")
}

// teardown transitions the neighbor to DOWN and notifies the owner so it
// can withdraw the neighbor's routes from the topology table.
func (n *Neighbor) teardown(reason string) {
	wasUp := n.State == Up
	n.State = Down
	if n.holdTimer != nil {
		n.holdTimer.Stop()
	}
	if wasUp && n.metrics != nil {
		n.metrics.NeighborDown.WithLabelValues(ifaceLabel(n.InterfaceIndex), reason).Inc()
	}
	n.notifier.NeighborDown(n, reason)
}

// armHoldTimer (re)starts the hold timer using the negotiated hold time,
// jittered the same way the teacher jitters BGP's keepalive/hold timers.
func (n *Neighbor) armHoldTimer() {
	d := jitter(n.HoldTime)
	if n.holdTimer == nil {
		n.holdTimer = xtimer.New(d, n.HandleHoldTimerExpired)
		return
	}
	n.holdTimer.RearmAt(d)
}

// BeginGracefulRestart marks this neighbor as mid-restart and snapshots
// known, the prefixes currently learned from it, so routes it previously
// advertised are held rather than withdrawn until EndGracefulRestart
// poisons whatever wasn't re-advertised (§4.C).
func (n *Neighbor) BeginGracefulRestart(known []netip.Prefix) {
	n.restarting = true
	n.grSnapshot = make(map[netip.Prefix]struct{}, len(known))
	for _, p := range known {
		n.grSnapshot[p] = struct{}{}
	}
}

// ObserveGracefulRestartRoute removes prefix from the restart snapshot as
// it is re-advertised mid-restart; a no-op outside a restart.
func (n *Neighbor) ObserveGracefulRestartRoute(prefix netip.Prefix) {
	if n.restarting {
		delete(n.grSnapshot, prefix)
	}
}

// EndGracefulRestart clears restart bookkeeping on receipt of the End-of-
// Table marker and returns the prefixes that were never re-advertised —
// the caller must poison these via DUAL (§4.C).
func (n *Neighbor) EndGracefulRestart() []netip.Prefix {
	stale := make([]netip.Prefix, 0, len(n.grSnapshot))
	for p := range n.grSnapshot {
		stale = append(stale, p)
	}
	n.restarting = false
	n.grSnapshot = nil
	return stale
}

// Restarting reports whether this neighbor is mid graceful-restart.
func (n *Neighbor) Restarting() bool { return n.restarting }

// ForceDown tears the adjacency down for a reason originating outside the
// FSM itself (e.g. transport's retransmit exhaustion or DUAL's SIA-stuck
// escalation).
func (n *Neighbor) ForceDown(reason string) {
	n.teardown(reason)
}

// CheckAndAdvanceCryptSeq enforces the AUTH TLV replay guard (§4.A): keySeq
// must be strictly greater than the last accepted value. On success it
// remembers keySeq and returns true; otherwise the packet must be dropped
// as a replay and cryptSeq is left untouched.
func (n *Neighbor) CheckAndAdvanceCryptSeq(keySeq uint32) bool {
	if keySeq <= n.cryptSeq {
		return false
	}
	n.cryptSeq = keySeq
	return true
}

// NextMulticastSequence returns the next value to announce in a Hello's
// NEXT_MULTICAST_SEQ TLV, distinct from transport's per-ACK sequence
// space (§4.A).
func (n *Neighbor) NextMulticastSequence() uint32 {
	n.lastSeq++
	return n.lastSeq
}

func kValuesEqual(a, b topology.KValues) bool {
	return a == b
}

func ifaceLabel(idx int) string {
	return fmt.Sprintf("if%d", idx)
}
