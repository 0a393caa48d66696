package state

import (
	"fmt"
	"math/rand"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pfx(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

func TestRoutingTableBasicOps(t *testing.T) {
	rt := NewRoutingTable(nil)
	rt.Add(Route{Network: pfx("10.0.0.0/24"), NextHop: 2, AsPath: []uint16{65002}})

	r, ok := rt.Get(pfx("10.0.0.0/24"))
	require.True(t, ok)
	assert.Equal(t, RouterId(2), r.NextHop)

	assert.True(t, rt.Update(Route{Network: pfx("10.0.0.0/24"), NextHop: 3, AsPath: []uint16{65003, 65002}}))
	r, _ = rt.Get(pfx("10.0.0.0/24"))
	assert.Equal(t, RouterId(3), r.NextHop)
	assert.Equal(t, []uint16{65003, 65002}, r.AsPath)

	assert.False(t, rt.Update(Route{Network: pfx("10.9.0.0/16"), NextHop: 3}))
	_, ok = rt.Get(pfx("10.9.0.0/16"))
	assert.False(t, ok)

	assert.True(t, rt.Remove(pfx("10.0.0.0/24")))
	assert.False(t, rt.Remove(pfx("10.0.0.0/24")))
	assert.Equal(t, 0, rt.Len())
	assert.Equal(t, "routing table is empty", rt.String())
}

func TestRoutingTableAddReplaces(t *testing.T) {
	rt := NewRoutingTable(nil)
	rt.Add(Route{Network: pfx("10.0.0.0/24"), NextHop: 2})
	rt.Add(Route{Network: pfx("10.0.0.0/24"), NextHop: 3})
	assert.Equal(t, 1, rt.Len())
	r, _ := rt.Get(pfx("10.0.0.0/24"))
	assert.Equal(t, RouterId(3), r.NextHop)
}

func TestRoutingTableMergeKeepsShorterPath(t *testing.T) {
	short := Route{Network: pfx("10.0.0.0/24"), NextHop: 2, AsPath: []uint16{1, 2}}
	long := Route{Network: pfx("10.0.0.0/24"), NextHop: 3, AsPath: []uint16{1, 2, 3, 4}}

	for _, order := range [][]Route{{short, long}, {long, short}} {
		rt := NewRoutingTable(nil)
		for _, r := range order {
			rt.Merge(r)
		}
		got, ok := rt.Get(pfx("10.0.0.0/24"))
		require.True(t, ok)
		assert.Equal(t, short.NextHop, got.NextHop)
		assert.Len(t, got.AsPath, 2)
	}
}

func TestRoutingTableMergeTieKeepsIncumbent(t *testing.T) {
	rt := NewRoutingTable(nil)
	assert.Equal(t, RouteAdded, rt.Merge(Route{Network: pfx("10.0.0.0/24"), NextHop: 2, AsPath: []uint16{1, 2}}))
	assert.Equal(t, RouteDiscarded, rt.Merge(Route{Network: pfx("10.0.0.0/24"), NextHop: 3, AsPath: []uint16{3, 4}}))
	assert.Equal(t, RouteImproved, rt.Merge(Route{Network: pfx("10.0.0.0/24"), NextHop: 4, AsPath: []uint16{5}}))
	got, _ := rt.Get(pfx("10.0.0.0/24"))
	assert.Equal(t, RouterId(4), got.NextHop)
	assert.False(t, RouteDiscarded.Changed())
	assert.True(t, RouteImproved.Changed())
}

func TestRoutingTableRoutesVia(t *testing.T) {
	rt := NewRoutingTable(nil)
	rt.Add(Route{Network: pfx("10.2.0.0/16"), NextHop: 2})
	rt.Add(Route{Network: pfx("10.1.0.0/16"), NextHop: 2})
	rt.Add(Route{Network: pfx("10.3.0.0/16"), NextHop: 3})

	via := rt.RoutesVia(2)
	require.Len(t, via, 2)
	assert.Equal(t, pfx("10.1.0.0/16"), via[0].Network)
	assert.Equal(t, pfx("10.2.0.0/16"), via[1].Network)

	removed := rt.RemoveVia(2)
	assert.Len(t, removed, 2)
	assert.Empty(t, rt.RoutesVia(2))
	assert.Equal(t, 1, rt.Len())
	assert.Empty(t, rt.RemoveVia(2))
}

func TestRoutingTableLookup(t *testing.T) {
	rt := NewRoutingTable(nil)
	rt.Add(Route{Network: pfx("10.0.0.0/8"), NextHop: 2})
	rt.Add(Route{Network: pfx("10.1.0.0/16"), NextHop: 3})

	r, ok := rt.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, RouterId(3), r.NextHop)
	r, ok = rt.Lookup(netip.MustParseAddr("10.2.2.3"))
	require.True(t, ok)
	assert.Equal(t, RouterId(2), r.NextHop)
	_, ok = rt.Lookup(netip.MustParseAddr("192.168.0.1"))
	assert.False(t, ok)
}

func TestRoutingTableReturnsCopies(t *testing.T) {
	rt := NewRoutingTable(nil)
	path := []uint16{1, 2}
	rt.Add(Route{Network: pfx("10.0.0.0/24"), NextHop: 2, AsPath: path})
	path[0] = 99
	r, _ := rt.Get(pfx("10.0.0.0/24"))
	assert.Equal(t, uint16(1), r.AsPath[0])
	r.AsPath[1] = 99
	r, _ = rt.Get(pfx("10.0.0.0/24"))
	assert.Equal(t, uint16(2), r.AsPath[1])
}

// at most one entry per network, whatever the interleaving
func TestRoutingTableConcurrentOneEntryPerNetwork(t *testing.T) {
	rt := NewRoutingTable(nil)
	networks := make([]netip.Prefix, 8)
	for i := range networks {
		networks[i] = pfx(fmt.Sprintf("10.%d.0.0/16", i))
	}
	wg := sync.WaitGroup{}
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for range 500 {
				n := networks[rng.Intn(len(networks))]
				route := Route{Network: n, NextHop: RouterId(w), AsPath: make([]uint16, rng.Intn(5))}
				switch rng.Intn(4) {
				case 0:
					rt.Add(route)
				case 1:
					rt.Update(route)
				case 2:
					rt.Remove(n)
				default:
					rt.Merge(route)
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[netip.Prefix]int)
	for _, r := range rt.Routes() {
		seen[r.Network]++
	}
	for n, c := range seen {
		assert.Equal(t, 1, c, "network %s", n)
	}
	assert.Equal(t, len(seen), rt.Len())
}
