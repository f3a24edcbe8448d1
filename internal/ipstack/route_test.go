package ipstack

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func entry(t *testing.T, cidr, nextHop string) RouteEntry {
	t.Helper()
	p := netip.MustParsePrefix(cidr)
	return RouteEntry{Prefix: p, NextHop: netip.MustParseAddr(nextHop)}
}

func TestIPStack_Table_LongestPrefixMatchWins(t *testing.T) {
	t.Parallel()

	table := NewTable([]RouteEntry{
		entry(t, "0.0.0.0/0", "10.0.0.1"),
		entry(t, "10.1.0.0/16", "10.0.0.2"),
	})

	nextHop, ok := table.Lookup(netip.MustParseAddr("10.1.5.5"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.2", nextHop.String())

	nextHop, ok = table.Lookup(netip.MustParseAddr("8.8.8.8"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", nextHop.String())
}

func TestIPStack_Table_NoMatchWithoutDefaultRoute(t *testing.T) {
	t.Parallel()

	table := NewTable([]RouteEntry{
		entry(t, "10.1.0.0/16", "10.0.0.2"),
	})

	_, ok := table.Lookup(netip.MustParseAddr("8.8.8.8"))
	require.False(t, ok)
}

func TestIPStack_Table_SamePrefixLastWriterWins(t *testing.T) {
	t.Parallel()

	table := NewTable([]RouteEntry{
		entry(t, "10.0.0.0/24", "10.0.0.1"),
		entry(t, "10.0.0.0/24", "10.0.0.2"),
	})

	nextHop, ok := table.Lookup(netip.MustParseAddr("10.0.0.5"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.2", nextHop.String())
}

func TestIPStack_Table_MoreSpecificPrefixBeatsLessSpecificEvenWhenInsertedFirst(t *testing.T) {
	t.Parallel()

	table := NewTable([]RouteEntry{
		entry(t, "10.0.0.0/8", "10.0.0.1"),
		entry(t, "10.1.2.0/24", "10.0.0.2"),
		entry(t, "10.1.2.128/25", "10.0.0.3"),
	})

	nextHop, ok := table.Lookup(netip.MustParseAddr("10.1.2.200"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.3", nextHop.String())

	nextHop, ok = table.Lookup(netip.MustParseAddr("10.1.2.50"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.2", nextHop.String())

	nextHop, ok = table.Lookup(netip.MustParseAddr("10.9.9.9"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", nextHop.String())
}
