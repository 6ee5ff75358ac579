// Package dual implements the per-prefix DUAL state machine (§4.E): the
// PASSIVE/ACTIVE-variant states, Query/Reply/SIA bookkeeping, and the
// successor/feasible-successor bridge into package topology.
//
// Each entry point (HandleMetric, HandleQuery, HandleReply, ...)
// dispatches on the prefix's current state with a small switch, the same
// declarative spirit as the teacher's prototype fsm.go switch-on-event
// handlers, rather than nested conditionals (SPEC_FULL.md §9, "DUAL as
// explicit table").
package dual

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/internal/metrics"
	"github.com/gsim047/eigrpd/topology"
)

// Notifier is how the engine emits outbound protocol messages; it is
// implemented by the eigrp package, which knows how to turn these into
// Update/Query/Reply/SIA-Query packets on the wire (§4.E: "Queries are
// multicast on an interface when multiple peers exist, unicast
// otherwise; Replies are always unicast to the querier").
type Notifier interface {
	SendQuery(prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID)
	SendReply(to topology.NeighborID, prefix netip.Prefix, m topology.RouteMetric)
	SendUpdate(prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID)
	SendSIAQuery(to topology.NeighborID, prefix netip.Prefix)
	TearDownNeighbor(n topology.NeighborID, reason string)
}

// RouteSink receives successor-change notifications (§4.F).
type RouteSink interface {
	SuccessorChanged(prefix netip.Prefix, next *topology.NeighborEntry)
	SuccessorLost(prefix netip.Prefix)
}

// Filter is the process/interface filter predicate bridged in from the
// external collaborator described in §6.
type Filter func(prefix netip.Prefix, dir Direction) bool

// Direction matches the external filter interface's direction parameter.
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

// Engine drives DUAL over a single topology.Table.
type Engine struct {
	table    *topology.Table
	k        topology.KValues
	variance uint32
	active   time.Duration

	notifier  Notifier
	sink      RouteSink
	outFilter Filter

	metrics *metrics.Registry
	log     *zap.Logger

	activeSince  map[netip.Prefix]time.Time
	siaWarned    map[netip.Prefix]map[topology.NeighborID]bool
	owedReplies  map[netip.Prefix][]topology.NeighborID
}

// Config bundles Engine's construction parameters.
type Config struct {
	Table      *topology.Table
	K          topology.KValues
	Variance   uint32
	ActiveTime time.Duration
	Notifier   Notifier
	Sink       RouteSink
	OutFilter  Filter
	Metrics    *metrics.Registry
	Log        *zap.Logger
}

// New creates a DUAL engine.
func New(cfg Config) *Engine {
	if cfg.Variance == 0 {
		cfg.Variance = 1
	}
	if cfg.OutFilter == nil {
		cfg.OutFilter = func(netip.Prefix, Direction) bool { return true }
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Engine{
		table:       cfg.Table,
		k:           cfg.K,
		variance:    cfg.Variance,
		active:      cfg.ActiveTime,
		notifier:    cfg.Notifier,
		sink:        cfg.Sink,
		outFilter:   cfg.OutFilter,
		metrics:     cfg.Metrics,
		log:         cfg.Log.Named("dual"),
		activeSince: make(map[netip.Prefix]time.Time),
		siaWarned:   make(map[netip.Prefix]map[topology.NeighborID]bool),
		owedReplies: make(map[netip.Prefix][]topology.NeighborID),
	}
}

// HandleMetric processes an Update or Reply carrying a neighbor's reported
// metric for a prefix (§4.E input message type). reported == nil means the
// neighbor withdrew the route.
func (e *Engine) HandleMetric(prefix netip.Prefix, from topology.NeighborID, ifaceIndex int, linkBandwidth, linkDelay uint32, reported *topology.RouteMetric) {
	entry := e.table.Insert(prefix)
	ne := entry.NeighborEntryFor(from)

	if reported == nil {
		e.withdraw(entry, from)
		return
	}

	local := topology.CombineLink(*reported, linkBandwidth, linkDelay)
	dist := topology.Composite(e.k, local)
	reportedDist := topology.Composite(e.k, *reported)

	if ne == nil {
		ne = &topology.NeighborEntry{Neighbor: from, InterfaceIndex: ifaceIndex}
		entry.Neighbors = append(entry.Neighbors, ne)
	}
	ne.Reported = local
	ne.ReportedDist = reportedDist
	ne.Distance = dist

	e.onNeighborEntryChanged(entry, from)
}

func (e *Engine) withdraw(entry *topology.Entry, from topology.NeighborID) {
	for i, ne := range entry.Neighbors {
		if ne.Neighbor == from {
			entry.Neighbors = append(entry.Neighbors[:i], entry.Neighbors[i+1:]...)
			break
		}
	}
	if len(entry.Neighbors) == 0 {
		if entry.State == topology.Passive {
			e.sink.SuccessorLost(entry.Prefix)
		}
		e.table.Delete(entry.Prefix)
		return
	}
	e.onNeighborEntryChanged(entry, from)
}

// onNeighborEntryChanged re-derives the successor and drives the
// PASSIVE/ACTIVE transition per §4.E's "Key rules". from identifies which
// neighbor-entry changed, so handlePassiveInput can tell a successor-caused
// change from a non-successor one (§4.E's A2 vs A3) and a locally-sourced
// one (A0) from a neighbor-sourced one.
func (e *Engine) onNeighborEntryChanged(entry *topology.Entry, from topology.NeighborID) {
	switch entry.State {
	case topology.Passive:
		e.handlePassiveInput(entry, from)
	default:
		// While ACTIVE, neighbor-entry changes only update bookkeeping;
		// the successor is not re-derived until all replies are in
		// (§4.E: "When the bitmap empties, compute new FD ... select the
		// successor").
	}
}

// handlePassiveInput applies §4.D step 4 and §4.E's PASSIVE key rule: it
// only stays PASSIVE without querying when it can switch to (or keep) a
// successor without the feasible distance increasing past what was already
// known-safe — a successor change to an already-feasible alternative
// (scenario 4: FD may rise, but the new successor's RD was below the old
// FD, so no loop is possible) or the existing successor's distance holding
// steady or falling. Anything else must go ACTIVE and query, classified
// into the four variants from §4.E by what triggered it.
func (e *Engine) handlePassiveInput(entry *topology.Entry, from topology.NeighborID) {
	oldSucc := entry.Successor()
	hadOldSucc := oldSucc != nil
	var oldSuccID topology.NeighborID
	if hadOldSucc {
		oldSuccID = oldSucc.Neighbor
	}
	if !hadOldSucc && from != topology.SelfNeighborID && entry.NeighborEntryFor(from) == nil {
		// from's neighbor-entry was just withdrawn and no remaining entry is
		// flagged as successor, so the withdrawn entry held the slot.
		hadOldSucc, oldSuccID = true, from
	}
	oldFD := entry.FD

	changed := topology.RecomputeSuccessor(entry, e.variance)
	succ := entry.Successor()

	if succ != nil {
		succChanged := !hadOldSucc || succ.Neighbor != oldSuccID
		safe := (succChanged && succ.ReportedDist < oldFD) || (!succChanged && entry.Distance <= oldFD)
		if safe {
			// §4.D step 4 / scenario 4: FD always tracks the successor's
			// distance while PASSIVE (invariant I3), even when a successor
			// switch raises it.
			entry.FD = entry.Distance
			if changed {
				entry.Pending |= topology.NeedsUpdate
				e.sink.SuccessorChanged(entry.Prefix, succ)
				e.notifier.SendUpdate(entry.Prefix, succ.Reported, succ.Neighbor)
			}
			return
		}
	}

	state := topology.Active3
	switch {
	case from == topology.SelfNeighborID:
		state = topology.Active0 // local input, no feasible successor (§4.E)
	case hadOldSucc && from == oldSuccID && succ != nil && succ.Neighbor == oldSuccID:
		state = topology.Active1 // successor distance increased, same successor retained
	case hadOldSucc && from == oldSuccID:
		state = topology.Active2 // successor input caused loss of FS
	default:
		state = topology.Active3 // non-successor input caused loss of FS
	}
	e.goActive(entry, state, 0, false)
}

func (e *Engine) goActive(entry *topology.Entry, state topology.State, causedBy topology.NeighborID, hasCause bool) {
	entry.State = state
	entry.ActiveByFault = causedBy
	entry.HasActiveByFault = hasCause
	entry.ReplyStatus = make(map[topology.NeighborID]bool)
	for _, ne := range entry.Neighbors {
		if hasCause && ne.Neighbor == causedBy {
			continue
		}
		entry.ReplyStatus[ne.Neighbor] = true
	}
	e.activeSince[entry.Prefix] = time.Now()
	if e.metrics != nil {
		e.metrics.ActivePrefixes.Inc()
	}

	if len(entry.ReplyStatus) == 0 {
		// No one to query: resolve immediately.
		e.finishActive(entry)
		return
	}
	for n := range entry.ReplyStatus {
		ne := entry.NeighborEntryFor(n)
		if ne == nil {
			continue
		}
		e.notifier.SendQuery(entry.Prefix, ne.Reported, 0)
	}
}

// HandleQuery processes an inbound Query TLV.
func (e *Engine) HandleQuery(prefix netip.Prefix, from topology.NeighborID, ifaceIndex int, linkBandwidth, linkDelay uint32, reported *topology.RouteMetric) {
	entry := e.table.Insert(prefix)
	e.HandleMetric(prefix, from, ifaceIndex, linkBandwidth, linkDelay, reported)

	if entry.State == topology.Passive {
		succ := entry.Successor()
		var m topology.RouteMetric
		if succ != nil {
			m = succ.Reported
		}
		e.notifier.SendReply(from, prefix, m)
		return
	}
	e.owedReplies[prefix] = append(e.owedReplies[prefix], from)
}

// HandleReply processes an inbound Reply, clearing the replying neighbor's
// bit in the prefix's reply-status bitmap (§4.E).
func (e *Engine) HandleReply(prefix netip.Prefix, from topology.NeighborID, ifaceIndex int, linkBandwidth, linkDelay uint32, reported *topology.RouteMetric) {
	entry, ok := e.table.Lookup(prefix)
	if !ok || !entry.State.IsActive() {
		return
	}
	e.HandleMetric(prefix, from, ifaceIndex, linkBandwidth, linkDelay, reported)
	delete(entry.ReplyStatus, from)
	delete(e.siaWarned[prefix], from)

	if len(entry.ReplyStatus) == 0 {
		e.finishActive(entry)
	}
}

func (e *Engine) finishActive(entry *topology.Entry) {
	changed := topology.RecomputeSuccessor(entry, e.variance)
	entry.FD = entry.Distance
	entry.State = topology.Passive
	delete(e.activeSince, entry.Prefix)
	delete(e.siaWarned, entry.Prefix)
	if e.metrics != nil {
		e.metrics.ActivePrefixes.Dec()
	}

	succ := entry.Successor()
	if succ == nil {
		e.sink.SuccessorLost(entry.Prefix)
	} else if changed {
		e.sink.SuccessorChanged(entry.Prefix, succ)
	}

	if entry.HasActiveByFault {
		var m topology.RouteMetric
		if succ != nil {
			m = succ.Reported
		}
		e.notifier.SendReply(entry.ActiveByFault, entry.Prefix, m)
		entry.HasActiveByFault = false
	}
	for _, n := range e.owedReplies[entry.Prefix] {
		var m topology.RouteMetric
		if succ != nil {
			m = succ.Reported
		}
		e.notifier.SendReply(n, entry.Prefix, m)
	}
	delete(e.owedReplies, entry.Prefix)
}

// SIAWatchdogTick is called periodically (from the scheduler) for every
// currently-ACTIVE prefix to drive the stuck-in-active escalation (§4.E).
func (e *Engine) SIAWatchdogTick(prefix netip.Prefix) {
	entry, ok := e.table.Lookup(prefix)
	if !ok || !entry.State.IsActive() {
		return
	}
	since, ok := e.activeSince[prefix]
	if !ok {
		return
	}
	elapsed := time.Since(since)

	if elapsed >= e.active {
		for n := range entry.ReplyStatus {
			e.notifier.TearDownNeighbor(n, "SIAStuck")
		}
		delete(e.activeSince, prefix)
		delete(e.siaWarned, prefix)
		if e.metrics != nil {
			e.metrics.ActivePrefixes.Dec()
		}
		return
	}

	if elapsed >= e.active/2 {
		warned := e.siaWarned[prefix]
		if warned == nil {
			warned = make(map[topology.NeighborID]bool)
			e.siaWarned[prefix] = warned
		}
		for n := range entry.ReplyStatus {
			if warned[n] {
				continue
			}
			warned[n] = true
			e.notifier.SendSIAQuery(n, prefix)
		}
	}
}

// HandleSIAReply resets the SIA watchdog for the replying neighbor.
func (e *Engine) HandleSIAReply(prefix netip.Prefix, from topology.NeighborID) {
	if warned := e.siaWarned[prefix]; warned != nil {
		delete(warned, from)
	}
	e.activeSince[prefix] = time.Now()
}

// NeighborDown withdraws every prefix learned from n (§7:
// RetransmitExhausted/SIAStuck: "all prefixes learned from that neighbor
// are withdrawn through DUAL").
func (e *Engine) NeighborDown(n topology.NeighborID) {
	for _, key := range e.table.PrefixesFrom(n) {
		entry, ok := e.table.Lookup(key)
		if !ok {
			continue
		}
		e.withdraw(entry, n)
	}
}

// OutboundFilterChanged synthesizes a poisoning Update for prefix toward
// all neighbors (no neighbor is excluded) when an outbound filter newly
// denies it (§4.E).
func (e *Engine) OutboundFilterChanged(prefix netip.Prefix) {
	if e.outFilter(prefix, DirOut) {
		return
	}
	poison := topology.RouteMetric{Delay: topology.Infinity, Bandwidth: 0}
	e.notifier.SendUpdate(prefix, poison, 0)
}
