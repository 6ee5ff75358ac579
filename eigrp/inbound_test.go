package eigrp

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsim047/eigrpd/packet"
	"github.com/gsim047/eigrpd/topology"
)

// fakeSock is a rawSender that records outbound writes instead of touching
// a real socket, so packet-handling tests don't need raw-socket privilege.
type fakeSock struct {
	mu  sync.Mutex
	out [][]byte
}

func (f *fakeSock) SendTo(b []byte, _ netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.out = append(f.out, cp)
	return nil
}
func (f *fakeSock) Recv(buf []byte) (int, netip.Addr, error) { select {} }
func (f *fakeSock) JoinGroup(int) error                       { return nil }
func (f *fakeSock) Close() error                              { return nil }

type fakeFIB struct {
	mu        sync.Mutex
	installed map[netip.Prefix]netip.Addr
	withdrawn map[netip.Prefix]bool
}

func newFakeFIB() *fakeFIB {
	return &fakeFIB{installed: make(map[netip.Prefix]netip.Addr), withdrawn: make(map[netip.Prefix]bool)}
}
func (f *fakeFIB) Install(prefix netip.Prefix, nextHop netip.Addr, _ uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[prefix] = nextHop
	delete(f.withdrawn, prefix)
	return nil
}
func (f *fakeFIB) Withdraw(prefix netip.Prefix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.installed, prefix)
	f.withdrawn[prefix] = true
	return nil
}

func newTestAS(t *testing.T) (*AS, *fakeSock, *fakeFIB) {
	t.Helper()
	fib := newFakeFIB()
	as, err := New(Config{
		ASNumber: 1,
		RouterID: 0x01010101,
		K:        topology.KValues{K1: 1, K3: 1},
		FIB:      fib,
	})
	require.NoError(t, err)
	sock := &fakeSock{}
	as.sock = sock
	return as, sock, fib
}

func mustAddIface(t *testing.T, as *AS, name string, index int, addr string) *Interface {
	t.Helper()
	prefix := netip.MustParsePrefix(addr)
	iff, err := as.AddInterface(InterfaceConfig{
		Name: name, Index: index,
		LocalAddr: prefix.Addr(), Network: prefix,
		Bandwidth: 100000, Delay: 10,
		HelloInterval: 5 * time.Second, HoldTime: 15 * time.Second,
	})
	require.NoError(t, err)
	return iff
}

// TestAdjacencyFormation exercises §8 scenario 1: a Hello from a new
// source creates a PENDING neighbor and an INIT Update is sent.
func TestAdjacencyFormation(t *testing.T) {
	as, sock, _ := newTestAS(t)
	iff := mustAddIface(t, as, "eth0", 1, "1.1.1.1/30")
	peer := netip.MustParseAddr("1.1.1.2")

	hello := packet.Packet{
		Header: packet.Header{Version: packet.Version, Opcode: packet.OpcodeHello, ASNumber: 1},
		TLVs: []packet.TLV{packet.ParametersTLV{K1: 1, K3: 1, HoldTime: 15}},
	}
	payload := as.encode(iff, hello, packet.ModeBasicHelloOrUpdate)
	datagram := wrapIPv4(peer, rawAllRouters(), payload)

	as.handleInbound(peer, datagram)

	rec, ok := as.lookupNeighbor(peer)
	require.True(t, ok)
	require.Equal(t, "PENDING", rec.fsm.State.String())

	// An INIT Update should have gone out over the fake socket.
	require.NotEmpty(t, sock.out)
}

// TestGracefulRestartPoisonsStaleRoutes exercises §8 scenario 6: prefixes
// known from a neighbor before a graceful restart that are not
// re-advertised in the restart sequence get poisoned.
func TestGracefulRestartPoisonsStaleRoutes(t *testing.T) {
	as, _, fib := newTestAS(t)
	iff := mustAddIface(t, as, "eth0", 1, "1.1.1.1/30")
	peer := netip.MustParseAddr("1.1.1.2")

	rec := as.ensureNeighbor(iff, peer)
	rec.fsm.HandleInitUpdate() // force PENDING->UP is a no-op from DOWN; drive state directly below
	_ = rec

	keptPrefix := netip.MustParsePrefix("10.0.0.0/24")
	stalePrefix := netip.MustParsePrefix("10.0.1.0/24")

	metric := topology.RouteMetric{Delay: 10, Bandwidth: 100000, MTU: 1500, HopCount: 1, Reliability: 255}
	as.dual.HandleMetric(keptPrefix, rec.fsm.ID, iff.Index, iff.Bandwidth, iff.Delay, &metric)
	as.dual.HandleMetric(stalePrefix, rec.fsm.ID, iff.Index, iff.Bandwidth, iff.Delay, &metric)
	require.Contains(t, fib.installed, keptPrefix)
	require.Contains(t, fib.installed, stalePrefix)

	restart := packet.Packet{
		Header: packet.Header{Version: packet.Version, Opcode: packet.OpcodeUpdate, ASNumber: 1, Flags: packet.FlagRS},
		TLVs: []packet.TLV{packet.IPv4InternalTLV{
			Prefix: keptPrefix, Delay: 10, Bandwidth: 100000, MTU: 1500, HopCount: 1, Reliability: 255,
		}},
	}
	as.handleUpdate(rec, iff, &restart)
	require.True(t, rec.fsm.Restarting())

	eot := packet.Packet{Header: packet.Header{Version: packet.Version, Opcode: packet.OpcodeUpdate, ASNumber: 1, Flags: packet.FlagEOT}}
	as.handleUpdate(rec, iff, &eot)

	require.False(t, rec.fsm.Restarting())
	require.Contains(t, fib.installed, keptPrefix)
	require.NotContains(t, fib.installed, stalePrefix)
	require.True(t, fib.withdrawn[stalePrefix])
}

func rawAllRouters() netip.Addr {
	return netip.MustParseAddr("224.0.0.10")
}
