package topology

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompositeMetricBasic(t *testing.T) {
	k := KValues{K1: 1, K3: 1}
	m := RouteMetric{Bandwidth: 100000, Delay: 2000, Reliability: 255, Load: 1}
	got := Composite(k, m)
	require.Greater(t, got, uint32(0))
	require.Less(t, got, Infinity)
}

func TestCompositeMetricSaturatesAtInfinity(t *testing.T) {
	k := KValues{K1: 1, K3: 1}
	m := RouteMetric{Bandwidth: 0, Delay: 10}
	require.Equal(t, Infinity, Composite(k, m))
}

func TestCombineLinkMinimumBandwidthSummedDelay(t *testing.T) {
	reported := RouteMetric{Bandwidth: 100000, Delay: 1000, HopCount: 1}
	got := CombineLink(reported, 10000, 500)
	require.Equal(t, uint32(10000), got.Bandwidth)
	require.Equal(t, uint32(1500), got.Delay)
	require.Equal(t, byte(2), got.HopCount)
}

func TestRecomputeSuccessorPicksMinimumDistance(t *testing.T) {
	tbl := New()
	key := netip.MustParsePrefix("10.0.0.0/24")
	e := tbl.Insert(key)
	e.FD = Infinity

	n1 := &NeighborEntry{Neighbor: 1, ReportedDist: 50, Distance: 100}
	n2 := &NeighborEntry{Neighbor: 2, ReportedDist: 60, Distance: 150}
	e.Neighbors = []*NeighborEntry{n2, n1}
	e.FD = Infinity

	changed := RecomputeSuccessor(e, 1)
	require.True(t, changed)
	require.Equal(t, NeighborID(1), e.Successor().Neighbor)
	require.Equal(t, uint32(100), e.Distance)
}

func TestRecomputeSuccessorFeasibility(t *testing.T) {
	tbl := New()
	key := netip.MustParsePrefix("10.0.0.0/24")
	e := tbl.Insert(key)
	e.FD = 100 // established feasible distance from a prior successor

	viaR2 := &NeighborEntry{Neighbor: 2, ReportedDist: 50, Distance: 150}
	e.Neighbors = []*NeighborEntry{viaR2}
	RecomputeSuccessor(e, 2)
	require.True(t, viaR2.FeasibleSucc, "RD 50 < FD 100 satisfies the feasibility condition")

	viaR3 := &NeighborEntry{Neighbor: 3, ReportedDist: 120, Distance: 130}
	e.Neighbors = append(e.Neighbors, viaR3)
	RecomputeSuccessor(e, 2)
	require.False(t, viaR3.FeasibleSucc, "RD 120 >= FD 100 fails the feasibility condition")
}

func TestPrefixesFromAndLookupEntry(t *testing.T) {
	tbl := New()
	key := netip.MustParsePrefix("10.0.0.0/24")
	e := tbl.Insert(key)
	e.Neighbors = append(e.Neighbors, &NeighborEntry{Neighbor: 5, Distance: 10})

	got := tbl.PrefixesFrom(5)
	require.Equal(t, []Key{key}, got)

	ne, ok := tbl.LookupEntry(key, 5)
	require.True(t, ok)
	require.Equal(t, uint32(10), ne.Distance)

	_, ok = tbl.LookupEntry(key, 6)
	require.False(t, ok)
}
