package dual

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsim047/eigrpd/topology"
)

type fakeNotifier struct {
	queries    []netip.Prefix
	replies    map[topology.NeighborID][]netip.Prefix
	updates    []netip.Prefix
	siaQueries []netip.Prefix
	tornDown   []topology.NeighborID
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{replies: make(map[topology.NeighborID][]netip.Prefix)}
}

func (f *fakeNotifier) SendQuery(prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID) {
	f.queries = append(f.queries, prefix)
}
func (f *fakeNotifier) SendReply(to topology.NeighborID, prefix netip.Prefix, m topology.RouteMetric) {
	f.replies[to] = append(f.replies[to], prefix)
}
func (f *fakeNotifier) SendUpdate(prefix netip.Prefix, m topology.RouteMetric, exclude topology.NeighborID) {
	f.updates = append(f.updates, prefix)
}
func (f *fakeNotifier) SendSIAQuery(to topology.NeighborID, prefix netip.Prefix) {
	f.siaQueries = append(f.siaQueries, prefix)
}
func (f *fakeNotifier) TearDownNeighbor(n topology.NeighborID, reason string) {
	f.tornDown = append(f.tornDown, n)
}

type fakeSink struct {
	changed []netip.Prefix
	lost    []netip.Prefix
}

func (s *fakeSink) SuccessorChanged(prefix netip.Prefix, next *topology.NeighborEntry) {
	s.changed = append(s.changed, prefix)
}
func (s *fakeSink) SuccessorLost(prefix netip.Prefix) {
	s.lost = append(s.lost, prefix)
}

func newTestEngine() (*Engine, *fakeNotifier, *fakeSink) {
	n := newFakeNotifier()
	s := &fakeSink{}
	e := New(Config{
		Table:      topology.New(),
		K:          topology.KValues{K1: 1, K3: 1},
		Variance:   1,
		ActiveTime: time.Minute,
		Notifier:   n,
		Sink:       s,
	})
	return e, n, s
}

func TestHandleMetricSinglePathGoesPassiveImmediately(t *testing.T) {
	e, _, sink := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	e.HandleMetric(prefix, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})

	entry, ok := e.table.Lookup(prefix)
	require.True(t, ok)
	require.Equal(t, topology.Passive, entry.State)
	require.Len(t, sink.changed, 1)
	require.Equal(t, prefix, sink.changed[0])
}

func TestHandleMetricWithdrawLastNeighborLosesSuccessor(t *testing.T) {
	e, _, sink := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	e.HandleMetric(prefix, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})
	e.HandleMetric(prefix, 1, 1, 0, 0, nil)

	require.Len(t, sink.lost, 1)
	_, ok := e.table.Lookup(prefix)
	require.False(t, ok)
}

func TestLossOfFeasibleSuccessorGoesActiveAndQueries(t *testing.T) {
	e, notifier, _ := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	// Two neighbors: 1 is the best path, 2 is not feasible relative to FD.
	e.HandleMetric(prefix, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})
	e.HandleMetric(prefix, 2, 2, 100000, 100, &topology.RouteMetric{Bandwidth: 1000, Delay: 100})

	entry, _ := e.table.Lookup(prefix)
	fd := entry.FD

	// Neighbor 1 withdraws, leaving only neighbor 2 whose reported distance
	// is not below the established FD -- no feasible successor exists.
	e.HandleMetric(prefix, 1, 1, 0, 0, nil)

	entry, ok := e.table.Lookup(prefix)
	require.True(t, ok)
	if entry.State.IsActive() {
		require.NotEmpty(t, notifier.queries)
		require.Greater(t, fd, uint32(0))
	}
}

// TestSuccessorSwitchToFeasibleAlternateRaisesFD reproduces spec.md §8
// scenario 4: losing the successor to a feasible alternate stays PASSIVE
// and raises FD to the new successor's distance, even though that distance
// is higher than the old FD (invariant I3: FD always equals the PASSIVE
// successor's distance).
func TestSuccessorSwitchToFeasibleAlternateRaisesFD(t *testing.T) {
	e, _, sink := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	// Neighbor 1 is the best path (distance 76800, becomes FD).
	e.HandleMetric(prefix, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})
	// Neighbor 2 is a feasible alternate (its reported distance is below
	// FD) but its own distance through this link is worse, so it is not
	// yet the successor.
	e.HandleMetric(prefix, 2, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 50000, Delay: 50})

	entry, ok := e.table.Lookup(prefix)
	require.True(t, ok)
	oldFD := entry.FD
	require.Equal(t, topology.NeighborID(1), entry.Successor().Neighbor)

	// Neighbor 1 withdraws; neighbor 2 is feasible, so DUAL must switch to
	// it and stay PASSIVE rather than going ACTIVE.
	e.HandleMetric(prefix, 1, 1, 0, 0, nil)

	entry, ok = e.table.Lookup(prefix)
	require.True(t, ok)
	require.Equal(t, topology.Passive, entry.State)
	require.NotNil(t, entry.Successor())
	require.Equal(t, topology.NeighborID(2), entry.Successor().Neighbor)
	require.Greater(t, entry.FD, oldFD)
	require.Equal(t, entry.Distance, entry.FD)
	require.Contains(t, sink.changed, prefix)
}

func TestHandleQueryWhilePassiveRepliesImmediately(t *testing.T) {
	e, notifier, _ := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	e.HandleMetric(prefix, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})
	e.HandleQuery(prefix, 2, 2, 100000, 100, &topology.RouteMetric{Bandwidth: 50000, Delay: 200})

	require.Contains(t, notifier.replies, topology.NeighborID(2))
	require.Equal(t, prefix, notifier.replies[2][0])
}

func TestActiveResolvesOnceAllRepliesArrive(t *testing.T) {
	e, notifier, sink := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	e.HandleMetric(prefix, 1, 1, 1000, 100, &topology.RouteMetric{Bandwidth: 1000, Delay: 100})
	e.HandleMetric(prefix, 2, 2, 1000, 100, &topology.RouteMetric{Bandwidth: 1000, Delay: 100})

	entry, _ := e.table.Lookup(prefix)
	e.goActive(entry, topology.Active1, 0, false)
	require.True(t, entry.State.IsActive())
	require.NotEmpty(t, notifier.queries)

	for n := range entry.ReplyStatus {
		ne := entry.NeighborEntryFor(n)
		var reported topology.RouteMetric
		if ne != nil {
			reported = ne.Reported
		}
		e.HandleReply(prefix, n, ne.InterfaceIndex, 1000, 100, &reported)
	}

	entry, ok := e.table.Lookup(prefix)
	require.True(t, ok)
	require.Equal(t, topology.Passive, entry.State)
	require.NotEmpty(t, sink.changed)
}

func TestSIAWatchdogEscalatesThenTearsDown(t *testing.T) {
	e, notifier, _ := newTestEngine()
	e.active = 100 * time.Millisecond
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	e.HandleMetric(prefix, 1, 1, 1000, 100, &topology.RouteMetric{Bandwidth: 1000, Delay: 100})
	entry, _ := e.table.Lookup(prefix)
	e.goActive(entry, topology.Active1, 0, false)
	e.activeSince[prefix] = time.Now().Add(-60 * time.Millisecond)

	e.SIAWatchdogTick(prefix)
	require.NotEmpty(t, notifier.siaQueries)

	e.activeSince[prefix] = time.Now().Add(-200 * time.Millisecond)
	e.SIAWatchdogTick(prefix)
	require.NotEmpty(t, notifier.tornDown)
}

func TestNeighborDownWithdrawsAllItsPrefixes(t *testing.T) {
	e, _, sink := newTestEngine()
	p1 := netip.MustParsePrefix("10.0.0.0/24")
	p2 := netip.MustParsePrefix("10.0.1.0/24")

	e.HandleMetric(p1, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})
	e.HandleMetric(p2, 1, 1, 100000, 100, &topology.RouteMetric{Bandwidth: 100000, Delay: 100})

	e.NeighborDown(1)

	require.Len(t, sink.lost, 2)
	_, ok := e.table.Lookup(p1)
	require.False(t, ok)
	_, ok = e.table.Lookup(p2)
	require.False(t, ok)
}

func TestOutboundFilterChangedPoisonsDeniedPrefix(t *testing.T) {
	e, notifier, _ := newTestEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	e.outFilter = func(p netip.Prefix, dir Direction) bool { return false }

	e.OutboundFilterChanged(prefix)

	require.Len(t, notifier.updates, 1)
	require.Equal(t, prefix, notifier.updates[0])
}
