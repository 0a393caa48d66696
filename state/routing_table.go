package state

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/gaissmai/bart"
)

type Route struct {
	Network netip.Prefix
	NextHop RouterId
	AsPath  []uint16
}

func (r Route) String() string {
	return fmt.Sprintf("%s via %s path %v", r.Network, r.NextHop, r.AsPath)
}

func (r Route) clone() Route {
	r.AsPath = slices.Clone(r.AsPath)
	return r
}

type MergeResult int

const (
	// RouteAdded means no route to the network existed
	RouteAdded MergeResult = iota
	// RouteImproved means the candidate had a strictly shorter AS path and replaced the incumbent
	RouteImproved
	// RouteDiscarded means the incumbent was kept
	RouteDiscarded
)

func (m MergeResult) String() string {
	switch m {
	case RouteAdded:
		return "added"
	case RouteImproved:
		return "improved"
	case RouteDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("MergeResult(%d)", int(m))
	}
}

// Changed reports whether the table was mutated
func (m MergeResult) Changed() bool {
	return m != RouteDiscarded
}

// RoutingTable holds at most one route per network. It is safe for concurrent use.
type RoutingTable struct {
	lock  sync.RWMutex
	table bart.Table[Route]
	log   *slog.Logger
}

func NewRoutingTable(log *slog.Logger) *RoutingTable {
	if log == nil {
		log = slog.Default()
	}
	return &RoutingTable{log: log}
}

// Add inserts the route unconditionally, replacing any route to the same network
func (t *RoutingTable) Add(route Route) {
	route = route.clone()
	route.Network = route.Network.Masked()
	t.lock.Lock()
	defer t.lock.Unlock()
	t.table.Insert(route.Network, route)
}

// Update replaces the next hop and AS path of an existing route
func (t *RoutingTable) Update(route Route) bool {
	route = route.clone()
	route.Network = route.Network.Masked()
	t.lock.Lock()
	_, ok := t.table.Get(route.Network)
	if ok {
		t.table.Insert(route.Network, route)
	}
	t.lock.Unlock()
	if !ok {
		t.log.Debug("no route to update", "network", route.Network)
	}
	return ok
}

// Remove deletes the route to network and reports whether one existed
func (t *RoutingTable) Remove(network netip.Prefix) bool {
	network = network.Masked()
	t.lock.Lock()
	_, ok := t.table.Get(network)
	if ok {
		t.table.Delete(network)
	}
	t.lock.Unlock()
	if !ok {
		t.log.Debug("no route to remove", "network", network)
	}
	return ok
}

func (t *RoutingTable) Get(network netip.Prefix) (Route, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	r, ok := t.table.Get(network.Masked())
	return r.clone(), ok
}

// Lookup returns the longest prefix match for addr
func (t *RoutingTable) Lookup(addr netip.Addr) (Route, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	r, ok := t.table.Lookup(addr)
	return r.clone(), ok
}

// Merge applies the best path policy: the candidate replaces an existing route
// only if its AS path is strictly shorter.
func (t *RoutingTable) Merge(route Route) MergeResult {
	route = route.clone()
	route.Network = route.Network.Masked()
	t.lock.Lock()
	defer t.lock.Unlock()
	existing, ok := t.table.Get(route.Network)
	if !ok {
		t.table.Insert(route.Network, route)
		return RouteAdded
	}
	if len(route.AsPath) < len(existing.AsPath) {
		t.table.Insert(route.Network, route)
		return RouteImproved
	}
	return RouteDiscarded
}

func (t *RoutingTable) RoutesVia(nextHop RouterId) []Route {
	t.lock.RLock()
	defer t.lock.RUnlock()
	routes := make([]Route, 0)
	for _, r := range t.table.All() {
		if r.NextHop == nextHop {
			routes = append(routes, r.clone())
		}
	}
	sortRoutes(routes)
	return routes
}

// RemoveVia deletes every route whose next hop is nextHop and returns them
func (t *RoutingTable) RemoveVia(nextHop RouterId) []Route {
	t.lock.Lock()
	defer t.lock.Unlock()
	routes := make([]Route, 0)
	for _, r := range t.table.All() {
		if r.NextHop == nextHop {
			routes = append(routes, r)
		}
	}
	for _, r := range routes {
		t.table.Delete(r.Network)
	}
	sortRoutes(routes)
	return routes
}

// Routes returns a snapshot ordered by network
func (t *RoutingTable) Routes() []Route {
	t.lock.RLock()
	defer t.lock.RUnlock()
	routes := make([]Route, 0, t.table.Size())
	for _, r := range t.table.All() {
		routes = append(routes, r.clone())
	}
	sortRoutes(routes)
	return routes
}

func (t *RoutingTable) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.table.Size()
}

func (t *RoutingTable) String() string {
	routes := t.Routes()
	if len(routes) == 0 {
		return "routing table is empty"
	}
	sb := strings.Builder{}
	for _, r := range routes {
		sb.WriteString(fmt.Sprintf("%-18s via %-5s path %v\n", r.Network, r.NextHop, r.AsPath))
	}
	return sb.String()
}

func sortRoutes(routes []Route) {
	slices.SortFunc(routes, func(a, b Route) int {
		if c := a.Network.Addr().Compare(b.Network.Addr()); c != 0 {
			return c
		}
		return a.Network.Bits() - b.Network.Bits()
	})
}
