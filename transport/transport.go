// Package transport implements the reliable-delivery layer described in
// §4.B: a per-neighbor retransmission queue, stop-and-wait ACK matching,
// and retransmit-exhaustion teardown. It is grounded in the teacher's
// queue package (a slice-backed FIFO of byte-slice messages) and timer
// package (time.AfterFunc wrapper), generalized here to internal/ring and
// internal/xtimer so each neighbor gets its own independent retransmission
// state instead of one process-wide queue.
package transport

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/internal/counter"
	"github.com/gsim047/eigrpd/internal/eigrplog"
	"github.com/gsim047/eigrpd/internal/metrics"
	"github.com/gsim047/eigrpd/internal/ring"
	"github.com/gsim047/eigrpd/internal/xtimer"
	"github.com/gsim047/eigrpd/topology"
)

// DefaultMaxRetries is the number of retransmissions attempted before a
// neighbor is declared unreachable (§4.B).
const DefaultMaxRetries = 16

// Sender transmits an already-encoded packet to a unicast or multicast
// destination; the eigrp package backs this with a rawsock.Socket.
type Sender interface {
	Transmit(addr netip.Addr, b []byte) error
}

// TeardownNotifier is told when a neighbor's retransmission queue is
// exhausted (§7: RetransmitExhausted).
type TeardownNotifier interface {
	RetransmitExhausted(n topology.NeighborID)
}

// pending is one packet awaiting acknowledgment. attempts is a plain local
// tally (§3: "retransmit counter"), not a labeled Prometheus metric -
// internal/counter is the right tool for exactly this, a per-packet count
// nothing outside this struct ever needs to query by label.
type pending struct {
	seq      uint32
	payload  []byte
	attempts *counter.Counter
}

// peerQueue holds one neighbor's outstanding-packet FIFO. The packet at
// the front of the ring is always the one currently in flight awaiting an
// ACK; Push appends new packets to the back (§4.B).
type peerQueue struct {
	mu      sync.Mutex
	id      topology.NeighborID
	addr    netip.Addr
	ring    *ring.Ring[*pending]
	timer   *xtimer.Timer
	seq     uint32
}

// Manager owns one peerQueue per adjacent neighbor and the retransmission
// timer/interval/retry-limit policy shared across them.
type Manager struct {
	mu sync.Mutex

	peers map[topology.NeighborID]*peerQueue

	sender     Sender
	teardown   TeardownNotifier
	interval   time.Duration
	maxRetries int

	metrics *metrics.Registry
	log     *zap.Logger
}

// Config bundles a Manager's construction parameters.
type Config struct {
	Sender            Sender
	Teardown          TeardownNotifier
	RetransmitInterval time.Duration
	MaxRetries        int
	Metrics           *metrics.Registry
	Log               *zap.Logger
}

// New creates a transport Manager.
func New(cfg Config) *Manager {
	if cfg.RetransmitInterval == 0 {
		cfg.RetransmitInterval = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	log := cfg.Log
	if log == nil {
		log = eigrplog.Nop()
	}
	return &Manager{
		peers:      make(map[topology.NeighborID]*peerQueue),
		sender:     cfg.Sender,
		teardown:   cfg.Teardown,
		interval:   cfg.RetransmitInterval,
		maxRetries: cfg.MaxRetries,
		metrics:    cfg.Metrics,
		log:        log.Named("transport"),
	}
}

// AddPeer registers a neighbor's reliable-delivery queue. Calling it more
// than once for the same id is a no-op.
func (m *Manager) AddPeer(id topology.NeighborID, addr netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; ok {
		return
	}
	m.peers[id] = &peerQueue{id: id, addr: addr, ring: ring.New[*pending]()}
}

// RemovePeer discards a neighbor's queue and stops its retransmit timer.
func (m *Manager) RemovePeer(id topology.NeighborID) {
	m.mu.Lock()
	pq, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()
	if ok && pq.timer != nil {
		pq.timer.Stop()
	}
}

// DiscardQueue clears a neighbor's outstanding retransmit queue and stops
// its timer, without removing the neighbor's registration or sequence
// counter (§4.C: "peer restart detected ... discard pending retransmits,
// resend INIT" — the peer keeps its slot, only the in-flight packets from
// before the restart are dropped).
func (m *Manager) DiscardQueue(id topology.NeighborID) {
	m.mu.Lock()
	pq := m.peers[id]
	m.mu.Unlock()
	if pq == nil {
		return
	}
	pq.mu.Lock()
	if pq.timer != nil {
		pq.timer.Stop()
	}
	pq.ring.Reset()
	pq.mu.Unlock()
}

// NextSequence returns the next sequence number for packets sent to id.
// Zero is reserved to mean "no ACK" (§8), so wraparound from 0xFFFFFFFF
// skips straight to 1 rather than 0.
func (m *Manager) NextSequence(id topology.NeighborID) uint32 {
	m.mu.Lock()
	pq := m.peers[id]
	m.mu.Unlock()
	if pq == nil {
		return 0
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.seq++
	if pq.seq == 0 {
		pq.seq = 1
	}
	return pq.seq
}

// SendUnreliable transmits a packet with no retry tracking (Hellos, Acks).
func (m *Manager) SendUnreliable(addr netip.Addr, payload []byte) error {
	return m.sender.Transmit(addr, payload)
}

// SendReliable enqueues payload for neighbor id and transmits immediately
// if it is the only outstanding packet (§4.B send_reliably: "if the queue
// was empty, transmit immediately; otherwise it waits behind the packet
// currently in flight").
func (m *Manager) SendReliable(id topology.NeighborID, seq uint32, payload []byte) error {
	m.mu.Lock()
	pq := m.peers[id]
	m.mu.Unlock()
	if pq == nil {
		return fmt.Errorf("transport: no queue for neighbor %d", id)
	}

	pq.mu.Lock()
	p := &pending{seq: seq, payload: payload, attempts: counter.New()}
	pq.ring.Push(p)
	shouldSend := pq.ring.Len() == 1
	pq.mu.Unlock()

	if shouldSend {
		return m.transmitFront(pq)
	}
	return nil
}

// SendMulticastReliable transmits payload once to the multicast group
// address and additionally enqueues a clone in every listed neighbor's own
// retransmit ring, so any neighbor that fails to ACK the multicast copy is
// unicast-retried independently (§9 "Reliable multicast via unicast
// fallback"). seq supplies each neighbor's sequence number for the cloned
// copy.
func (m *Manager) SendMulticastReliable(group netip.Addr, payload []byte, neighbors []topology.NeighborID, seq map[topology.NeighborID]uint32) error {
	if err := m.sender.Transmit(group, payload); err != nil {
		m.log.Warn("multicast transmit failed", zap.Error(err))
	}

	for _, id := range neighbors {
		m.mu.Lock()
		pq := m.peers[id]
		m.mu.Unlock()
		if pq == nil {
			continue
		}

		pq.mu.Lock()
		p := &pending{seq: seq[id], payload: payload, attempts: counter.New()}
		p.attempts.Increment()
		pq.ring.Push(p)
		onlyOutstanding := pq.ring.Len() == 1
		pq.mu.Unlock()

		// The wire copy already went out via multicast above; arm the
		// retransmit timer only if this is the sole outstanding packet -
		// if others are ahead of it in the ring, it rides along behind
		// them the same as any SendReliable-queued packet.
		if onlyOutstanding {
			pq.mu.Lock()
			if pq.timer == nil {
				pq.timer = xtimer.New(m.interval, func() { m.onRetransmitTimeout(pq) })
			} else {
				pq.timer.RearmAt(m.interval)
			}
			pq.mu.Unlock()
		}
	}
	return nil
}

// transmitFront sends the packet currently at the front of pq's ring and
// (re)arms its retransmission timer. Caller must not hold pq.mu.
func (m *Manager) transmitFront(pq *peerQueue) error {
	pq.mu.Lock()
	front, ok := pq.ring.Front()
	pq.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.sender.Transmit(pq.addr, front.payload); err != nil {
		m.log.Warn("transmit failed", zap.Uint32("neighbor", uint32(pq.id)), zap.Error(err))
	}

	pq.mu.Lock()
	attempts := front.attempts.Increment()
	pq.mu.Unlock()

	if attempts > uint64(m.maxRetries) {
		m.log.Warn("retransmit limit exceeded, tearing down neighbor", zap.Uint32("neighbor", uint32(pq.id)))
		m.RemovePeer(pq.id)
		if m.teardown != nil {
			m.teardown.RetransmitExhausted(pq.id)
		}
		return nil
	}

	if m.metrics != nil && attempts > 1 {
		m.metrics.Retransmits.WithLabelValues(fmt.Sprintf("n%d", pq.id)).Inc()
	}

	if pq.timer == nil {
		pq.timer = xtimer.New(m.interval, func() { m.onRetransmitTimeout(pq) })
	} else {
		pq.timer.RearmAt(m.interval)
	}
	return nil
}

func (m *Manager) onRetransmitTimeout(pq *peerQueue) {
	pq.mu.Lock()
	_, ok := pq.ring.Front()
	pq.mu.Unlock()
	if !ok {
		return
	}
	_ = m.transmitFront(pq)
}

// HandleAck processes an inbound Ack carrying ackNum. If it matches the
// front (in-flight) packet's sequence number, that packet is popped and,
// if another is queued behind it, transmission advances to it (§4.B).
func (m *Manager) HandleAck(id topology.NeighborID, ackNum uint32) {
	m.mu.Lock()
	pq := m.peers[id]
	m.mu.Unlock()
	if pq == nil {
		return
	}

	pq.mu.Lock()
	front, ok := pq.ring.Front()
	if !ok || front.seq != ackNum {
		pq.mu.Unlock()
		return
	}
	pq.ring.Pop()
	if pq.timer != nil {
		pq.timer.Stop()
	}
	_, more := pq.ring.Front()
	pq.mu.Unlock()

	if more {
		_ = m.transmitFront(pq)
	}
}

// QueueDepth returns the number of packets outstanding for id, used by
// tests and diagnostics.
func (m *Manager) QueueDepth(id topology.NeighborID) int {
	m.mu.Lock()
	pq := m.peers[id]
	m.mu.Unlock()
	if pq == nil {
		return 0
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.ring.Len()
}
