package fibshadow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupReturnsMostSpecificMatch(t *testing.T) {
	tree := New()
	tree.Insert(netip.MustParsePrefix("10.0.0.0/8"), netip.MustParseAddr("192.168.1.1"))
	tree.Insert(netip.MustParsePrefix("10.1.0.0/16"), netip.MustParseAddr("192.168.1.2"))

	_, nh, err := tree.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.168.1.2"), nh)

	_, nh, err = tree.Lookup(netip.MustParseAddr("10.2.2.3"))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.168.1.1"), nh)
}

func TestLookupNoMatchErrors(t *testing.T) {
	tree := New()
	_, _, err := tree.Lookup(netip.MustParseAddr("172.16.0.1"))
	require.Error(t, err)
}

func TestDeleteRemovesEntry(t *testing.T) {
	tree := New()
	p := netip.MustParsePrefix("10.0.0.0/24")
	tree.Insert(p, netip.MustParseAddr("10.0.0.1"))

	require.True(t, tree.Delete(p))
	_, _, err := tree.Lookup(netip.MustParseAddr("10.0.0.5"))
	require.Error(t, err)
}

func TestInsertReplacesExactMatch(t *testing.T) {
	tree := New()
	p := netip.MustParsePrefix("10.0.0.0/24")
	tree.Insert(p, netip.MustParseAddr("10.0.0.1"))
	tree.Insert(p, netip.MustParseAddr("10.0.0.2"))

	_, nh, err := tree.Lookup(netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.0.0.2"), nh)
}
