package topology

import (
	"net/netip"
	"sort"
)

// NeighborID is a small integer identifying a neighbor, used instead of a
// back-pointer so a topology Entry never holds a raw pointer into the
// neighbor package (§9: "packets carry neighbor-id ... rather than a
// back-pointer"). SelfNeighborID represents the synthetic directly
// connected "self" neighbor-entry (§3).
type NeighborID uint32

// SelfNeighborID is the sentinel id for directly connected routes.
const SelfNeighborID NeighborID = 0

// State is a prefix's DUAL state (§3: "PASSIVE + 4 ACTIVE variants").
type State int

const (
	Passive State = iota
	Active0
	Active1
	Active2
	Active3
)

func (s State) String() string {
	switch s {
	case Passive:
		return "PASSIVE"
	case Active0:
		return "ACTIVE-0"
	case Active1:
		return "ACTIVE-1"
	case Active2:
		return "ACTIVE-2"
	case Active3:
		return "ACTIVE-3"
	default:
		return "UNKNOWN"
	}
}

// IsActive reports whether s is one of the four ACTIVE variants.
func (s State) IsActive() bool { return s != Passive }

// Key identifies a prefix entry by (prefix, prefix length) — netip.Prefix
// already canonicalizes this pair, so it doubles as the map key (§3).
type Key = netip.Prefix

// PendingFlags are the pending-action bits on a prefix entry (§3).
type PendingFlags uint8

const (
	NeedsUpdate PendingFlags = 1 << iota
	NeedsQuery
)

// NeighborEntry is a single (prefix, advertising-neighbor) tuple (§3).
type NeighborEntry struct {
	Neighbor        NeighborID
	InterfaceIndex  int
	Reported        RouteMetric
	ReportedDist    uint32 // as the neighbor reports it (its own FD/metric)
	Distance        uint32 // local composite distance (reported+link contribution)
	Successor       bool
	FeasibleSucc    bool
}

// Entry is a prefix's topology-table node (§3).
type Entry struct {
	Prefix        Key
	State         State
	FD            uint32
	RD            uint32
	Distance      uint32
	Serial        uint64
	Neighbors     []*NeighborEntry
	ReplyStatus   map[NeighborID]bool // true while still awaiting this neighbor's reply
	SIAStatus     map[NeighborID]bool
	Pending       PendingFlags
	ActiveByFault NeighborID // the neighbor whose input caused this prefix to go ACTIVE, if any
	HasActiveByFault bool
}

// Successor returns the entry's current successor, if any.
func (e *Entry) Successor() *NeighborEntry {
	for _, ne := range e.Neighbors {
		if ne.Successor {
			return ne
		}
	}
	return nil
}

// FeasibleSuccessors returns the entry's current feasible successors,
// excluding the successor itself.
func (e *Entry) FeasibleSuccessors() []*NeighborEntry {
	var out []*NeighborEntry
	for _, ne := range e.Neighbors {
		if ne.FeasibleSucc && !ne.Successor {
			out = append(out, ne)
		}
	}
	return out
}

// NeighborEntryFor returns the entry belonging to the given neighbor, if
// the prefix has one.
func (e *Entry) NeighborEntryFor(n NeighborID) *NeighborEntry {
	for _, ne := range e.Neighbors {
		if ne.Neighbor == n {
			return ne
		}
	}
	return nil
}

// Table is the AS-wide topology table, keyed by (prefix, prefixlen) (§4.D).
type Table struct {
	entries map[Key]*Entry
	serial  uint64
}

// New creates an empty topology table.
func New() *Table {
	return &Table{entries: make(map[Key]*Entry)}
}

// Lookup returns the entry for key, if present.
func (t *Table) Lookup(key Key) (*Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

// Insert creates (or returns the existing) entry for key.
func (t *Table) Insert(key Key) *Entry {
	if e, ok := t.entries[key]; ok {
		return e
	}
	t.serial++
	e := &Entry{
		Prefix:      key,
		State:       Passive,
		FD:          Infinity,
		RD:          Infinity,
		Distance:    Infinity,
		Serial:      t.serial,
		ReplyStatus: make(map[NeighborID]bool),
		SIAStatus:   make(map[NeighborID]bool),
	}
	t.entries[key] = e
	return e
}

// Delete removes key from the table entirely.
func (t *Table) Delete(key Key) {
	delete(t.entries, key)
}

// LookupEntry returns the neighbor-entry for (key, neighbor), if present.
func (t *Table) LookupEntry(key Key, n NeighborID) (*NeighborEntry, bool) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	ne := e.NeighborEntryFor(n)
	return ne, ne != nil
}

// PrefixesFrom returns every prefix that currently has a neighbor-entry
// from n, used to build a graceful-restart snapshot (§4.C).
func (t *Table) PrefixesFrom(n NeighborID) []Key {
	var out []Key
	for k, e := range t.entries {
		if e.NeighborEntryFor(n) != nil {
			out = append(out, k)
		}
	}
	return out
}

// All returns every prefix currently in the table, ordered by serial
// number; the AS's SIA watchdog sweep uses it to find ACTIVE prefixes.
func (t *Table) All() []*Entry {
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Successors returns the current successor set for key (always zero or
// one entries, since this core implements single-path forwarding —
// equal-cost multipath is a non-goal, §1).
func (t *Table) Successors(key Key) []*NeighborEntry {
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if s := e.Successor(); s != nil {
		return []*NeighborEntry{s}
	}
	return nil
}

// RecomputeSuccessor re-sorts e's neighbor-entries and re-derives the
// successor and feasible-successor flags (§4.D steps 1-3). variance
// scales the feasibility distance bound. It returns true if the successor
// changed (§4.D step 4: "If the new successor differs from the prior one,
// mark NEEDS_UPDATE").
func RecomputeSuccessor(e *Entry, variance uint32) bool {
	if len(e.Neighbors) == 0 {
		wasSucc := e.Successor() != nil
		return wasSucc
	}

	sort.SliceStable(e.Neighbors, func(i, j int) bool {
		a, b := e.Neighbors[i], e.Neighbors[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		// Deterministic tie-break by (neighbor id, interface index), §4.D step 2.
		if a.Neighbor != b.Neighbor {
			return a.Neighbor < b.Neighbor
		}
		return a.InterfaceIndex < b.InterfaceIndex
	})

	prevSuccessor := NeighborID(0)
	hadSuccessor := false
	for _, ne := range e.Neighbors {
		if ne.Successor {
			prevSuccessor, hadSuccessor = ne.Neighbor, true
		}
		ne.Successor = false
		ne.FeasibleSucc = false
	}

	minDist := e.Neighbors[0].Distance
	newSucc := e.Neighbors[0]
	newSucc.Successor = true

	bound := uint64(variance) * uint64(minDist)
	for _, ne := range e.Neighbors {
		feasible := ne.ReportedDist < e.FD && uint64(ne.Distance) <= bound
		if feasible {
			ne.FeasibleSucc = true
		}
	}

	e.Distance = minDist
	changed := !hadSuccessor || prevSuccessor != newSucc.Neighbor
	return changed
}
