package neighbor

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsim047/eigrpd/topology"
)

type fakeNotifier struct {
	inits    int
	ups      int
	downs    []string
	restarts int
}

func (f *fakeNotifier) SendInit(n *Neighbor)                       { f.inits++ }
func (f *fakeNotifier) SendHello(n *Neighbor, holdTime time.Duration) {}
func (f *fakeNotifier) NeighborUp(n *Neighbor)                     { f.ups++ }
func (f *fakeNotifier) NeighborDown(n *Neighbor, reason string)    { f.downs = append(f.downs, reason) }
func (f *fakeNotifier) PeerRestarted(n *Neighbor)                  { f.restarts++ }

func newTestNeighbor(notifier *fakeNotifier) *Neighbor {
	return New(Config{
		ID:             1,
		Addr:           netip.MustParseAddr("10.0.0.2"),
		InterfaceIndex: 1,
		HoldTime:       15 * time.Second,
		Notifier:       notifier,
	})
}

func TestHelloFromUnknownMovesToPendingAndSendsInit(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)

	err := n.HandleHello(topology.KValues{K1: 1, K3: 1}, 15*time.Second)
	require.NoError(t, err)
	require.Equal(t, Pending, n.State)
	require.Equal(t, 1, notifier.inits)
}

func TestInitUpdateCompletesHandshake(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)
	require.NoError(t, n.HandleHello(topology.KValues{K1: 1, K3: 1}, 15*time.Second))

	n.HandleInitUpdate()

	require.Equal(t, Up, n.State)
	require.Equal(t, 1, notifier.ups)
}

func TestInitUpdateWhileUpRestartsToPending(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)
	require.NoError(t, n.HandleHello(topology.KValues{K1: 1, K3: 1}, 15*time.Second))
	n.HandleInitUpdate()
	require.Equal(t, Up, n.State)

	// Peer restarted: an INIT Update arrives while we are UP (§4.C).
	n.HandleInitUpdate()

	require.Equal(t, Pending, n.State)
	require.Equal(t, 1, notifier.restarts)
	require.Equal(t, 2, notifier.inits)
}

func TestKMismatchTearsDownAdjacency(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)
	require.NoError(t, n.HandleHello(topology.KValues{K1: 1, K3: 1}, 15*time.Second))
	n.HandleInitUpdate()

	err := n.HandleHello(topology.KValues{K1: 2, K3: 1}, 15*time.Second)
	require.Error(t, err)
	require.Equal(t, Down, n.State)
	require.Equal(t, []string{"KMismatch"}, notifier.downs)
}

func TestHoldTimerExpiryTearsDownUpNeighbor(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)
	require.NoError(t, n.HandleHello(topology.KValues{}, 15*time.Second))
	n.HandleInitUpdate()

	n.HandleHoldTimerExpired()

	require.Equal(t, Down, n.State)
	require.Equal(t, []string{"HoldTimerExpired"}, notifier.downs)
}

func TestHoldTimerExpiryWhileDownIsANoop(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)

	n.HandleHoldTimerExpired()

	require.Empty(t, notifier.downs)
}

func TestNextMulticastSequenceIsMonotonic(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)

	first := n.NextMulticastSequence()
	second := n.NextMulticastSequence()
	require.Equal(t, first+1, second)
}

func TestGracefulRestartLifecycle(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)
	require.False(t, n.Restarting())

	p1 := netip.MustParsePrefix("10.0.0.0/24")
	p2 := netip.MustParsePrefix("10.0.1.0/24")
	n.BeginGracefulRestart([]netip.Prefix{p1, p2})
	require.True(t, n.Restarting())

	n.ObserveGracefulRestartRoute(p1)

	stale := n.EndGracefulRestart()
	require.False(t, n.Restarting())
	require.Equal(t, []netip.Prefix{p2}, stale)
}

func TestCryptSeqReplayGuard(t *testing.T) {
	notifier := &fakeNotifier{}
	n := newTestNeighbor(notifier)

	require.True(t, n.CheckAndAdvanceCryptSeq(5))
	require.False(t, n.CheckAndAdvanceCryptSeq(5))
	require.False(t, n.CheckAndAdvanceCryptSeq(3))
	require.True(t, n.CheckAndAdvanceCryptSeq(6))
}
