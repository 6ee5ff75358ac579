package eigrp

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/internal/rawsock"
	"github.com/gsim047/eigrpd/neighbor"
	"github.com/gsim047/eigrpd/packet"
	"github.com/gsim047/eigrpd/routesink"
	"github.com/gsim047/eigrpd/topology"
)

// nextSeq returns the next AS-wide packet sequence number, used for the
// EIGRP header's Sequence field (distinct from transport's per-neighbor
// ACK-matching sequence space, and from a Hello's NEXT_MULTICAST_SEQ TLV).
// Zero is reserved to mean "no ACK" (§8), so wraparound from 0xFFFFFFFF
// skips straight to 1 rather than 0.
func (a *AS) nextSeq() uint32 {
	a.seqCounter++
	if a.seqCounter == 0 {
		a.seqCounter = 1
	}
	return a.seqCounter
}

// egressInterface resolves which configured interface should source a
// packet bound for addr: the owning interface of a known unicast neighbor,
// or the interface a multicast send is currently in flight on.
func (a *AS) egressInterface(addr netip.Addr) *Interface {
	a.mu.Lock()
	defer a.mu.Unlock()
	if nid, ok := a.byAddr[addr]; ok {
		if rec, ok := a.neighbors[nid]; ok {
			return rec.iff
		}
	}
	return a.pendingIface
}

// Transmit implements transport.Sender, wrapping an already-encoded EIGRP
// packet in its IPv4 header and writing it to the raw socket (§6).
func (a *AS) Transmit(addr netip.Addr, b []byte) error {
	iff := a.egressInterface(addr)
	if iff == nil {
		return fmt.Errorf("eigrp: no egress interface for %s", addr)
	}
	return a.sock.SendTo(wrapIPv4(iff.LocalAddr, addr, b), addr)
}

// RetransmitExhausted implements transport.TeardownNotifier (§7).
func (a *AS) RetransmitExhausted(n topology.NeighborID) {
	a.mu.Lock()
	rec, ok := a.neighbors[n]
	a.mu.Unlock()
	if !ok {
		return
	}
	rec.fsm.ForceDown("RetransmitExhausted")
}

// neighborsExcept groups every UP neighbor except exclude by owning
// interface, for DUAL's per-interface multicast-or-unicast Query/Update
// fan-out (§4.E).
func (a *AS) neighborsExcept(exclude topology.NeighborID) map[*Interface][]topology.NeighborID {
	a.mu.Lock()
	defer a.mu.Unlock()
	groups := make(map[*Interface][]topology.NeighborID)
	for id, rec := range a.neighbors {
		if id == exclude || rec.fsm.State != neighbor.Up {
			continue
		}
		groups[rec.iff] = append(groups[rec.iff], id)
	}
	return groups
}

func (a *AS) neighborAddr(id topology.NeighborID) (netip.Addr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.neighbors[id]
	if !ok {
		return netip.Addr{}, false
	}
	return rec.addr, true
}

// buildRoutePacket assembles an Update/Query/Reply/SIA-Query/SIA-Reply
// packet carrying a single prefix's metric (§4.A).
func (a *AS) buildRoutePacket(opcode packet.Opcode, seq, ack uint32, prefix netip.Prefix, m topology.RouteMetric) packet.Packet {
	tlv := packet.IPv4InternalTLV{
		NextHop:     netip.IPv4Unspecified(),
		Delay:       m.Delay,
		Bandwidth:   m.Bandwidth,
		MTU:         m.MTU,
		HopCount:    m.HopCount,
		Reliability: m.Reliability,
		Load:        m.Load,
		Tag:         m.Tag,
		RouteFlags:  m.Flags,
		Prefix:      prefix,
	}
	return packet.Packet{
		Header: packet.Header{
			Version:  packet.Version,
			Opcode:   opcode,
			Sequence: seq,
			Ack:      ack,
			ASNumber: a.asNumber,
		},
		TLVs: []packet.TLV{tlv},
	}
}

// encode serializes p, signing it with the egress interface's configured
// authentication (§4.A). A nil keyLookup or an interface with AuthNone
// yields a plain, unsigned encoding.
func (a *AS) encode(iff *Interface, p packet.Packet, mode packet.AuthMode) []byte {
	if iff == nil || iff.AuthKind == packet.AuthNone || a.keyLookup == nil {
		return p.Encode()
	}
	keyID, secret, ok := a.keyLookup(iff.KeychainName, time.Now())
	if !ok {
		return p.Encode()
	}
	auth := packet.AuthTLV{
		AuthType: packet.AuthTypeForKind(iff.AuthKind),
		KeyID:    keyID,
		Digest:   make([]byte, iff.AuthKind.DigestLength()),
	}
	return packet.EncodeSigned(p.Header, auth, p.TLVs, mode, secret)
}

// sendToNeighbor reliably delivers opcode/prefix/m to a single neighbor id
// over transport (Replies and SIA-Queries are always unicast, §4.E).
func (a *AS) sendToNeighbor(id topology.NeighborID, opcode packet.Opcode, prefix netip.Prefix, m topology.RouteMetric) {
	a.mu.Lock()
	rec, ok := a.neighbors[id]
	a.mu.Unlock()
	if !ok {
		return
	}
	seq := a.transport.NextSequence(id)
	p := a.buildRoutePacket(opcode, seq, 0, prefix, m)
	payload := a.encode(rec.iff, p, packet.ModeBasicHelloOrUpdate)
	if err := a.transport.SendReliable(id, seq, payload); err != nil {
		a.log.Warn("reliable send failed", zap.String("opcode", opcode.String()), zap.Error(err))
	}
}

// floodExceptOne fans opcode/prefix/m out on every interface that has a
// neighbor other than exclude: multicast-with-per-neighbor-ACK via
// transport.SendMulticastReliable when an interface has more than one such
// neighbor, or a direct unicast when it has exactly one (§4.E: "Queries
// are multicast on an interface when multiple peers exist, unicast
// otherwise" — the same rule applies to Updates).
func (a *AS) floodExceptOne(opcode packet.Opcode, prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID) {
	for iff, ids := range a.neighborsExcept(exclude) {
		if len(ids) == 1 {
			a.sendToNeighbor(ids[0], opcode, prefix, m)
			continue
		}

		seq := a.nextSeq()
		p := a.buildRoutePacket(opcode, seq, 0, prefix, m)
		payload := a.encode(iff, p, packet.ModeBasicHelloOrUpdate)

		seqMap := make(map[topology.NeighborID]uint32, len(ids))
		for _, id := range ids {
			seqMap[id] = seq
		}

		a.pendingIface = iff
		if err := a.transport.SendMulticastReliable(rawsock.AllEIGRPRouters, payload, ids, seqMap); err != nil {
			a.log.Warn("multicast reliable send failed", zap.String("opcode", opcode.String()), zap.Error(err))
		}
		a.pendingIface = nil
	}
}

// SendQuery implements dual.Notifier (§4.E).
func (a *AS) SendQuery(prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID) {
	a.floodExceptOne(packet.OpcodeQuery, prefix, m, exclude)
}

// SendReply implements dual.Notifier: Replies are always unicast (§4.E).
func (a *AS) SendReply(to topology.NeighborID, prefix netip.Prefix, m topology.RouteMetric) {
	a.sendToNeighbor(to, packet.OpcodeReply, prefix, m)
}

// SendUpdate implements dual.Notifier (§4.E).
func (a *AS) SendUpdate(prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID) {
	a.floodExceptOne(packet.OpcodeUpdate, prefix, m, exclude)
}

// SendSIAQuery implements dual.Notifier (§4.E SIA escalation).
func (a *AS) SendSIAQuery(to topology.NeighborID, prefix netip.Prefix) {
	a.sendToNeighbor(to, packet.OpcodeSIAQuery, prefix, topology.RouteMetric{})
}

// TearDownNeighbor implements dual.Notifier, used when the SIA watchdog's
// full active-time deadline passes (§4.E).
func (a *AS) TearDownNeighbor(n topology.NeighborID, reason string) {
	a.mu.Lock()
	rec, ok := a.neighbors[n]
	a.mu.Unlock()
	if !ok {
		return
	}
	rec.fsm.ForceDown(reason)
}

// SuccessorChanged implements dual.RouteSink, resolving the successor
// neighbor-entry into the address routesink actually installs (§4.F).
func (a *AS) SuccessorChanged(prefix netip.Prefix, next *topology.NeighborEntry) {
	addr, ok := a.neighborAddr(next.Neighbor)
	if !ok {
		return
	}
	a.sink.SuccessorChanged(prefix, next, routesink.NextHop{Addr: addr, Metric: next.Distance})
}

// SuccessorLost implements dual.RouteSink.
func (a *AS) SuccessorLost(prefix netip.Prefix) {
	a.sink.SuccessorLost(prefix)
}
