// Package eigrp ties the packet, transport, neighbor, topology, dual, and
// routesink packages into one running speaker: the AS instance and its
// per-interface records (§3), driven by internal/sched's single-threaded
// loop (§4.G/§5). It is grounded in the teacher's bgp/speaker.go (the
// Speaker type owning peers, a locRIB, and a listener() goroutine) and
// kbgp.go (the top-level constructor shape).
package eigrp

import (
	"net/netip"
	"time"
)

// FIBInstaller is the external collaborator the core programs the
// forwarding table through (§6). routesink.FIBInstaller is the same
// shape; AS takes one directly so callers need not import routesink.
type FIBInstaller interface {
	Install(prefix netip.Prefix, nextHop netip.Addr, metric uint32) error
	Withdraw(prefix netip.Prefix) error
}

// RedistKind identifies a source of externally learned routes to
// redistribute into EIGRP (§6).
type RedistKind int

const (
	RedistStatic RedistKind = iota
	RedistConnected
	RedistOSPF
	RedistBGP
)

// Redistributed is one route handed to the core by a RedistributeSource.
type Redistributed struct {
	Prefix    netip.Prefix
	NextHop   netip.Addr
	Metric    uint32
	Kind      RedistKind
	Withdrawn bool
}

// RedistributeSource supplies externally learned routes for
// redistribution (§6). The core only consumes the channel; it never
// blocks producing it.
type RedistributeSource interface {
	Subscribe(kind RedistKind) (<-chan Redistributed, error)
}

// Direction distinguishes inbound-received from outbound-advertised when
// consulting a FilterFunc (§6).
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Scope further qualifies a filter decision by what triggered it (§6):
// a Hello-time neighbor-wide filter versus a one-off redistribution check.
type Scope int

const (
	ScopeInterface Scope = iota
	ScopeRedistribution
)

// FilterFunc reports whether prefix is permitted in direction dir at the
// given scope (§6). A nil FilterFunc permits everything.
type FilterFunc func(prefix netip.Prefix, dir Direction, scope Scope) bool

// KeyLookup resolves a keychain name to the currently active key id and
// secret (§6). The core never stores secrets itself.
type KeyLookup func(keychainName string, now time.Time) (keyID uint32, secret []byte, ok bool)
