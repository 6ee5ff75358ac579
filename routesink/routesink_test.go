package routesink

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeFIB struct {
	installs  int
	withdraws int
	failNext  bool
}

func (f *fakeFIB) Install(prefix netip.Prefix, nextHop netip.Addr, metric uint32) error {
	if f.failNext {
		return errors.New("boom")
	}
	f.installs++
	return nil
}

func (f *fakeFIB) Withdraw(prefix netip.Prefix) error {
	f.withdraws++
	return nil
}

func TestSuccessorChangedInstallsOnce(t *testing.T) {
	fib := &fakeFIB{}
	s := New(fib, nil, nil)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	nh := NextHop{Addr: netip.MustParseAddr("10.0.0.1"), Metric: 100}

	s.SuccessorChanged(prefix, nil, nh)
	s.SuccessorChanged(prefix, nil, nh)

	require.Equal(t, 1, fib.installs, "identical (next hop, metric) must not reprogram the FIB")
}

func TestSuccessorChangedReinstallsOnMetricChange(t *testing.T) {
	fib := &fakeFIB{}
	s := New(fib, nil, nil)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	nh := netip.MustParseAddr("10.0.0.1")

	s.SuccessorChanged(prefix, nil, NextHop{Addr: nh, Metric: 100})
	s.SuccessorChanged(prefix, nil, NextHop{Addr: nh, Metric: 200})

	require.Equal(t, 2, fib.installs)
}

func TestSuccessorLostWithdrawsInstalledPrefix(t *testing.T) {
	fib := &fakeFIB{}
	s := New(fib, nil, nil)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	s.SuccessorChanged(prefix, nil, NextHop{Addr: netip.MustParseAddr("10.0.0.1"), Metric: 100})

	s.SuccessorLost(prefix)

	require.Equal(t, 1, fib.withdraws)
	_, ok := s.Installed(prefix)
	require.False(t, ok)
}

func TestSuccessorLostOnUninstalledPrefixIsNoop(t *testing.T) {
	fib := &fakeFIB{}
	s := New(fib, nil, nil)
	s.SuccessorLost(netip.MustParsePrefix("10.0.0.0/24"))
	require.Equal(t, 0, fib.withdraws)
}

func TestBestMatchReflectsInstalledRoute(t *testing.T) {
	fib := &fakeFIB{}
	s := New(fib, nil, nil)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	nh := netip.MustParseAddr("10.0.0.1")
	s.SuccessorChanged(prefix, nil, NextHop{Addr: nh, Metric: 100})

	matched, got, err := s.BestMatch(netip.MustParseAddr("10.0.0.42"))
	require.NoError(t, err)
	require.Equal(t, prefix, matched)
	require.Equal(t, nh, got)
}

func TestFailedInstallDoesNotUpdateState(t *testing.T) {
	fib := &fakeFIB{failNext: true}
	s := New(fib, nil, nil)
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	s.SuccessorChanged(prefix, nil, NextHop{Addr: netip.MustParseAddr("10.0.0.1"), Metric: 100})

	_, ok := s.Installed(prefix)
	require.False(t, ok)
}
