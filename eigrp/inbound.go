package eigrp

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/internal/rawsock"
	"github.com/gsim047/eigrpd/neighbor"
	"github.com/gsim047/eigrpd/packet"
	"github.com/gsim047/eigrpd/topology"
)

// sendHello builds and multicasts a Hello on iff (§4.C). Hellos are
// unreliable: no ACK is expected and none is tracked.
func (a *AS) sendHello(iff *Interface) {
	p := packet.Packet{
		Header: packet.Header{
			Version:  packet.Version,
			Opcode:   packet.OpcodeHello,
			Sequence: 0,
			ASNumber: a.asNumber,
		},
		TLVs: []packet.TLV{
			packet.ParametersTLV{
				K1: byte(a.k.K1), K2: byte(a.k.K2), K3: byte(a.k.K3),
				K4: byte(a.k.K4), K5: byte(a.k.K5),
				HoldTime: uint16(iff.HoldTime / time.Second),
			},
		},
	}
	payload := a.encode(iff, p, packet.ModeBasicHelloOrUpdate)
	if err := a.sock.SendTo(wrapIPv4(iff.LocalAddr, rawsock.AllEIGRPRouters, payload), rawsock.AllEIGRPRouters); err != nil {
		a.log.Warn("hello transmit failed", zap.String("interface", iff.Name), zap.Error(err))
	}
}

// ifaceFor resolves the configured interface a source address belongs to,
// for validating it falls inside the interface's configured network
// (§7: ErrNetworkMismatch).
func (a *AS) ifaceFor(src netip.Addr) *Interface {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, iff := range a.interfaces {
		if iff.Contains(src) {
			return iff
		}
	}
	return nil
}

// lookupNeighbor returns the existing neighborRecord for src, if any,
// without creating one. Used by verifyAuth's replay guard, which must not
// fabricate neighbor state for a packet that turns out to fail auth.
func (a *AS) lookupNeighbor(src netip.Addr) (*neighborRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byAddr[src]
	if !ok {
		return nil, false
	}
	return a.neighbors[id], true
}

// ensureNeighbor returns the neighborRecord for src on iff, creating it
// (in the DOWN state) on first sight (§4.C).
func (a *AS) ensureNeighbor(iff *Interface, src netip.Addr) *neighborRecord {
	a.mu.Lock()
	if id, ok := a.byAddr[src]; ok {
		rec := a.neighbors[id]
		a.mu.Unlock()
		return rec
	}
	a.nextNID++
	id := a.nextNID
	a.mu.Unlock()

	fsm := neighbor.New(neighbor.Config{
		ID:             id,
		Addr:           src,
		InterfaceIndex: iff.Index,
		HoldTime:       iff.HoldTime,
		Notifier:       a,
		Log:            a.log,
		Metrics:        a.metrics,
	})
	rec := &neighborRecord{fsm: fsm, addr: src, iff: iff}

	a.mu.Lock()
	a.neighbors[id] = rec
	a.byAddr[src] = id
	a.mu.Unlock()

	a.transport.AddPeer(id, src)
	return rec
}

// SendInit implements neighbor.Notifier: the first Update sent to a newly
// PENDING neighbor, signed (if auth is configured) with ModeUpdateInit
// since the peer cannot yet be assumed to know our key (§4.A, §4.C).
func (a *AS) SendInit(n *neighbor.Neighbor) {
	a.mu.Lock()
	rec, ok := a.neighbors[n.ID]
	a.mu.Unlock()
	if !ok {
		return
	}
	p := packet.Packet{
		Header: packet.Header{
			Version:  packet.Version,
			Opcode:   packet.OpcodeUpdate,
			Flags:    packet.FlagInit,
			Sequence: a.nextSeq(),
			ASNumber: a.asNumber,
		},
	}
	payload := a.encode(rec.iff, p, packet.ModeUpdateInit)
	if err := a.transport.SendUnreliable(n.Addr, payload); err != nil {
		a.log.Warn("INIT send failed", zap.Stringer("neighbor", n.Addr), zap.Error(err))
	}
}

// SendHello implements neighbor.Notifier.
func (a *AS) SendHello(n *neighbor.Neighbor, _ time.Duration) {
	a.mu.Lock()
	rec, ok := a.neighbors[n.ID]
	a.mu.Unlock()
	if !ok {
		return
	}
	a.sendHello(rec.iff)
}

// NeighborUp implements neighbor.Notifier.
func (a *AS) NeighborUp(n *neighbor.Neighbor) {
	a.log.Info("neighbor up", zap.Stringer("neighbor", n.Addr))
}

// NeighborDown implements neighbor.Notifier: withdraws every prefix
// learned from n and discards its transport/neighbor bookkeeping (§4.C,
// §7).
func (a *AS) NeighborDown(n *neighbor.Neighbor, reason string) {
	a.log.Info("neighbor down", zap.Stringer("neighbor", n.Addr), zap.String("reason", reason))
	a.dual.NeighborDown(n.ID)
	a.transport.RemovePeer(n.ID)

	a.mu.Lock()
	delete(a.neighbors, n.ID)
	delete(a.byAddr, n.Addr)
	a.mu.Unlock()
}

// PeerRestarted implements neighbor.Notifier for the peer-restart event
// (§4.C: "inbound Update with INIT flag while we are UP"). Unlike
// NeighborDown, the neighbor keeps its id and transport registration — the
// FSM is about to re-enter PENDING and resend INIT on the same neighbor,
// not be recreated from scratch — so only its learned routes and
// in-flight retransmits are discarded.
func (a *AS) PeerRestarted(n *neighbor.Neighbor) {
	a.log.Info("peer restart, discarding stale routes and retransmits", zap.Stringer("neighbor", n.Addr))
	a.dual.NeighborDown(n.ID)
	a.transport.DiscardQueue(n.ID)
}

// handleInbound validates and dispatches one datagram read off the raw
// socket (§4.A, §7): strip the IP header, verify the checksum, decode the
// TLV stream, verify authentication, resolve the source neighbor, and
// hand the packet to the opcode-appropriate handler.
func (a *AS) handleInbound(src netip.Addr, datagram []byte) {
	payload, err := stripIPv4(datagram)
	if err != nil {
		a.countDrop("unknown", "ShortIPHeader")
		return
	}

	iff := a.ifaceFor(src)
	if iff == nil {
		a.countDrop("unknown", "NetworkMismatch")
		return
	}

	if err := packet.VerifyChecksum(payload); err != nil {
		a.countDrop(iff.Name, "Malformed")
		return
	}
	pkt, err := packet.Decode(payload)
	if err != nil {
		a.countDrop(iff.Name, "Malformed")
		return
	}

	if !a.verifyAuth(iff, src, pkt, payload) {
		a.countDrop(iff.Name, "AuthFailure")
		return
	}

	if a.metrics != nil {
		a.metrics.PacketsDecoded.WithLabelValues(iff.Name, pkt.Header.Opcode.String()).Inc()
	}

	rec := a.ensureNeighbor(iff, src)

	if pkt.Header.Ack != 0 {
		a.transport.HandleAck(rec.fsm.ID, pkt.Header.Ack)
	}

	switch pkt.Header.Opcode {
	case packet.OpcodeHello:
		a.handleHello(rec, pkt)
	case packet.OpcodeUpdate:
		a.handleUpdate(rec, iff, pkt)
	case packet.OpcodeQuery:
		a.handleQuery(rec, iff, pkt)
	case packet.OpcodeReply:
		a.handleReply(rec, iff, pkt)
	case packet.OpcodeSIAQuery:
		a.handleSIAQuery(rec, pkt)
	case packet.OpcodeSIAReply:
		a.dual.HandleSIAReply(firstPrefix(pkt), rec.fsm.ID)
	case packet.OpcodeAck:
		// Ack bit already handled above; no further body to process.
	default:
		a.countDrop(iff.Name, "UnhandledOpcode")
	}

	if pkt.Header.Sequence != 0 && pkt.Header.Opcode != packet.OpcodeAck {
		a.sendAck(rec, iff, pkt.Header.Sequence)
	}
}

func (a *AS) countDrop(ifaceName, reason string) {
	if a.metrics != nil {
		a.metrics.PacketsDropped.WithLabelValues(ifaceName, reason).Inc()
	}
}

// verifyAuth checks an inbound packet's AUTH TLV, if the receiving
// interface has authentication configured (§4.A). A packet from an
// interface with no authentication configured is accepted unconditionally.
// It also enforces the per-neighbor replay guard on the AUTH TLV's
// key_sequence (§3, §4.A) for neighbors that already exist; a source seen
// for the first time has no replay history to check against yet.
func (a *AS) verifyAuth(iff *Interface, src netip.Addr, pkt *packet.Packet, raw []byte) bool {
	if iff.AuthKind == packet.AuthNone || a.keyLookup == nil {
		return true
	}
	auth, ok := pkt.Auth()
	if !ok {
		return false
	}
	if rec, ok := a.lookupNeighbor(src); ok {
		if !rec.fsm.CheckAndAdvanceCryptSeq(auth.KeySequence) {
			return false
		}
	}
	_, secret, ok := a.keyLookup(iff.KeychainName, time.Now())
	if !ok {
		return false
	}

	authHeaderLen := packet.HeaderLength + len(auth.Encode())
	if len(raw) < authHeaderLen {
		return false
	}
	headerAndZeroAuth := make([]byte, authHeaderLen)
	copy(headerAndZeroAuth, raw[:authHeaderLen])
	headerAndZeroAuth[2], headerAndZeroAuth[3] = 0, 0
	zeroed := auth
	zeroed.Digest = make([]byte, len(auth.Digest))
	copy(headerAndZeroAuth[packet.HeaderLength:], zeroed.Encode())

	bodyAfter := raw[authHeaderLen:]
	mode := packet.ModeBasicHelloOrUpdate
	if pkt.Header.Opcode == packet.OpcodeUpdate && pkt.Header.Flags.Has(packet.FlagInit) {
		mode = packet.ModeUpdateInit
	}
	return packet.Verify(iff.AuthKind, mode, secret, headerAndZeroAuth, bodyAfter, auth.Digest)
}

func (a *AS) handleHello(rec *neighborRecord, pkt *packet.Packet) {
	for _, t := range pkt.TLVs {
		params, ok := t.(packet.ParametersTLV)
		if !ok {
			continue
		}
		k := topology.KValues{
			K1: uint32(params.K1), K2: uint32(params.K2), K3: uint32(params.K3),
			K4: uint32(params.K4), K5: uint32(params.K5),
		}
		hold := time.Duration(params.HoldTime) * time.Second
		if err := rec.fsm.HandleHello(k, hold); err != nil {
			a.log.Warn("hello rejected", zap.Error(err))
		}
		return
	}
}

func (a *AS) handleUpdate(rec *neighborRecord, iff *Interface, pkt *packet.Packet) {
	if pkt.Header.Flags.Has(packet.FlagInit) {
		rec.fsm.HandleInitUpdate()
	}
	if pkt.Header.Flags.Has(packet.FlagRS) {
		rec.fsm.BeginGracefulRestart(a.table.PrefixesFrom(rec.fsm.ID))
	}
	for _, t := range pkt.TLVs {
		route, ok := t.(packet.IPv4InternalTLV)
		if !ok {
			continue
		}
		rec.fsm.ObserveGracefulRestartRoute(route.Prefix)
		m := routeMetricFromTLV(route)
		a.dual.HandleMetric(route.Prefix, rec.fsm.ID, iff.Index, iff.Bandwidth, iff.Delay, &m)
	}
	if pkt.Header.Flags.Has(packet.FlagEOT) {
		// Every prefix this neighbor advertised before the restart that it
		// did not re-advertise in the restart sequence is stale; it is
		// withdrawn through DUAL exactly as an explicit withdrawal is (§4.C).
		for _, stale := range rec.fsm.EndGracefulRestart() {
			a.dual.HandleMetric(stale, rec.fsm.ID, iff.Index, iff.Bandwidth, iff.Delay, nil)
		}
	}
}

func (a *AS) handleQuery(rec *neighborRecord, iff *Interface, pkt *packet.Packet) {
	for _, t := range pkt.TLVs {
		route, ok := t.(packet.IPv4InternalTLV)
		if !ok {
			continue
		}
		m := routeMetricFromTLV(route)
		a.dual.HandleQuery(route.Prefix, rec.fsm.ID, iff.Index, iff.Bandwidth, iff.Delay, &m)
	}
}

func (a *AS) handleReply(rec *neighborRecord, iff *Interface, pkt *packet.Packet) {
	for _, t := range pkt.TLVs {
		route, ok := t.(packet.IPv4InternalTLV)
		if !ok {
			continue
		}
		m := routeMetricFromTLV(route)
		a.dual.HandleReply(route.Prefix, rec.fsm.ID, iff.Index, iff.Bandwidth, iff.Delay, &m)
	}
}

// handleSIAQuery answers an inbound SIA-Query with an SIA-Reply carrying an
// empty metric (§4.E SIA escalation: the reply's only job is to tell the
// querying neighbor we are still alive and still working the query, not to
// report a metric). It does not feed the query into DUAL: unlike a plain
// Query, an SIA-Query is a liveness probe on an ACTIVE computation already
// in progress from an earlier Query, so there is no new DUAL input to
// process here, only the liveness reply itself. iff is unused because the
// reply is always unicast straight back to rec regardless of which
// interface it arrived on.
func (a *AS) handleSIAQuery(rec *neighborRecord, pkt *packet.Packet) {
	for _, t := range pkt.TLVs {
		route, ok := t.(packet.IPv4InternalTLV)
		if !ok {
			continue
		}
		a.sendToNeighbor(rec.fsm.ID, packet.OpcodeSIAReply, route.Prefix, topology.RouteMetric{})
	}
}

func (a *AS) sendAck(rec *neighborRecord, iff *Interface, ackFor uint32) {
	p := packet.Packet{
		Header: packet.Header{
			Version:  packet.Version,
			Opcode:   packet.OpcodeAck,
			Ack:      ackFor,
			ASNumber: a.asNumber,
		},
	}
	payload := a.encode(iff, p, packet.ModeBasicHelloOrUpdate)
	if err := a.transport.SendUnreliable(rec.addr, payload); err != nil {
		a.log.Warn("ack send failed", zap.Stringer("neighbor", rec.addr), zap.Error(err))
	}
}

func routeMetricFromTLV(t packet.IPv4InternalTLV) topology.RouteMetric {
	return topology.RouteMetric{
		Delay: t.Delay, Bandwidth: t.Bandwidth, MTU: t.MTU,
		HopCount: t.HopCount, Reliability: t.Reliability, Load: t.Load,
		Tag: t.Tag, Flags: t.RouteFlags,
	}
}

func firstPrefix(pkt *packet.Packet) netip.Prefix {
	for _, t := range pkt.TLVs {
		if route, ok := t.(packet.IPv4InternalTLV); ok {
			return route.Prefix
		}
	}
	return netip.Prefix{}
}
