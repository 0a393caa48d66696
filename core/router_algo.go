package core

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/encodeous/trustbgp/protocol"
	"github.com/encodeous/trustbgp/state"
)

type RouterEvent int

// trace events

const (
	RouteAdded RouterEvent = iota
	RouteImproved
	RouteDiscarded
	RouteWithdrawn
	RoutesPurged
	UpdateRejected
	LoopDetected
	SessionUp
	SessionDown
	SessionReplaced
	OpenReceived
	NotificationReceived
	VoteApplied
	TrustDecayed
)

// warn events

const (
	DecodeFault RouterEvent = iota + 1000
	UnsupportedFeature
	ConnectFailed
	SendFailed
	UnknownPeer
	SessionCollision
)

var eventNames = map[RouterEvent]string{
	RouteAdded:           "ROUTE_ADDED",
	RouteImproved:        "ROUTE_IMPROVED",
	RouteDiscarded:       "ROUTE_DISCARDED",
	RouteWithdrawn:       "ROUTE_WITHDRAWN",
	RoutesPurged:         "ROUTES_PURGED",
	UpdateRejected:       "UPDATE_REJECTED",
	LoopDetected:         "LOOP_DETECTED",
	SessionUp:            "SESSION_UP",
	SessionDown:          "SESSION_DOWN",
	SessionReplaced:      "SESSION_REPLACED",
	OpenReceived:         "OPEN_RECEIVED",
	NotificationReceived: "NOTIFICATION_RECEIVED",
	VoteApplied:          "VOTE_APPLIED",
	TrustDecayed:         "TRUST_DECAYED",
	DecodeFault:          "DECODE_FAULT",
	UnsupportedFeature:   "UNSUPPORTED_FEATURE",
	ConnectFailed:        "CONNECT_FAILED",
	SendFailed:           "SEND_FAILED",
	UnknownPeer:          "UNKNOWN_PEER",
	SessionCollision:     "SESSION_COLLISION",
}

func (e RouterEvent) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

func (e RouterEvent) IsWarn() bool {
	return e >= DecodeFault
}

// Router is the I/O side of route processing
type Router interface {
	// SendUpdate advertises routes sharing one AS path to a neighbour
	SendUpdate(neigh state.RouterId, asPath []uint16, networks []netip.Prefix)
	SendWithdraw(neigh state.RouterId, networks []netip.Prefix)
	// LiveNeighbours returns the neighbours with a live session
	LiveNeighbours() []state.RouterId
	Log(event RouterEvent, desc string, args ...any)
}

// RouterState is the routing state of one router
type RouterState struct {
	Id    state.RouterId
	AS    uint16
	Table *state.RoutingTable
	Trust *state.TrustModel
}

func NewRouterState(env *state.Env) *RouterState {
	rs := &RouterState{
		Id:    env.Id(),
		AS:    env.Self.AS,
		Table: state.NewRoutingTable(env.Log.WithGroup("table")),
		Trust: state.NewTrustModelFor(env),
	}
	for _, sr := range env.Self.RoutingTable {
		rs.Table.Add(state.Route{Network: sr.Network, NextHop: sr.NextHop, AsPath: sr.AsPath})
	}
	return rs
}

// exportPath is the AS path a route carries when sent to a neighbour
func exportPath(localAS uint16, path []uint16) []uint16 {
	if len(path) > 0 && path[0] == localAS {
		return slices.Clone(path)
	}
	return append([]uint16{localAS}, path...)
}

func broadcastExcept(r Router, except state.RouterId, fn func(neigh state.RouterId)) {
	for _, n := range r.LiveNeighbours() {
		if n != except {
			fn(n)
		}
	}
}

// HandleUpdate runs an UPDATE received from a neighbour through the trust
// gate, merges it and propagates it to every other live neighbour.
func HandleUpdate(rs *RouterState, r Router, from state.RouterId, upd *protocol.Update) {
	if !rs.Trust.Decide(from) {
		score := rs.Trust.Score(from)
		r.Log(UpdateRejected, "neighbour not trusted", "neighbour", from, "blend", score.Blend, "networks", upd.NLRI)
		return
	}
	path := upd.AsPath()
	if slices.Contains(path, rs.AS) {
		r.Log(LoopDetected, "dropping looped update", "neighbour", from, "path", path)
		return
	}
	accepted := make([]netip.Prefix, 0, len(upd.NLRI))
	for _, network := range upd.NLRI {
		route := state.Route{Network: network, NextHop: from, AsPath: path}
		res := rs.Table.Merge(route)
		switch res {
		case state.RouteAdded:
			r.Log(RouteAdded, "new route", "route", route)
		case state.RouteImproved:
			r.Log(RouteImproved, "shorter path", "route", route)
		default:
			r.Log(RouteDiscarded, "kept incumbent", "route", route)
		}
		accepted = append(accepted, network)
	}
	if len(accepted) == 0 {
		return
	}
	out := exportPath(rs.AS, path)
	broadcastExcept(r, from, func(neigh state.RouterId) {
		r.SendUpdate(neigh, out, accepted)
	})
}

// HandleWithdraw removes the named networks and passes the withdrawal on.
// Only networks that were present are passed on, so withdrawals die out in
// cyclic topologies. Locally originated networks are never withdrawn by a
// neighbour.
func HandleWithdraw(rs *RouterState, r Router, from state.RouterId, networks []netip.Prefix) {
	removed := make([]netip.Prefix, 0, len(networks))
	for _, network := range networks {
		existing, ok := rs.Table.Get(network)
		if ok && existing.NextHop == rs.Id {
			continue
		}
		if rs.Table.Remove(network) {
			r.Log(RouteWithdrawn, "withdrawn", "network", network, "neighbour", from)
			removed = append(removed, network.Masked())
		}
	}
	if len(removed) == 0 {
		return
	}
	broadcastExcept(r, from, func(neigh state.RouterId) {
		r.SendWithdraw(neigh, removed)
	})
}

// PurgeNeighbour removes every route through a neighbour that was declared
// down, and sends one WITHDRAW listing them to every other live neighbour.
func PurgeNeighbour(rs *RouterState, r Router, neigh state.RouterId) []state.Route {
	purged := rs.Table.RemoveVia(neigh)
	if len(purged) == 0 {
		return purged
	}
	networks := make([]netip.Prefix, 0, len(purged))
	for _, route := range purged {
		networks = append(networks, route.Network)
	}
	r.Log(RoutesPurged, "purged routes of failed neighbour", "neighbour", neigh, "networks", networks)
	broadcastExcept(r, neigh, func(n state.RouterId) {
		r.SendWithdraw(n, networks)
	})
	return purged
}

// AdvertiseTable sends the whole table to a newly attached neighbour, leaving
// out routes learned from it. Routes are grouped by exported AS path.
func AdvertiseTable(rs *RouterState, r Router, neigh state.RouterId) {
	type group struct {
		path     []uint16
		networks []netip.Prefix
	}
	groups := make([]*group, 0)
	for _, route := range rs.Table.Routes() {
		if route.NextHop == neigh {
			continue
		}
		path := exportPath(rs.AS, route.AsPath)
		idx := slices.IndexFunc(groups, func(g *group) bool {
			return slices.Equal(g.path, path)
		})
		if idx == -1 {
			groups = append(groups, &group{path: path})
			idx = len(groups) - 1
		}
		groups[idx].networks = append(groups[idx].networks, route.Network)
	}
	for _, g := range groups {
		r.SendUpdate(neigh, g.path, g.networks)
	}
}
