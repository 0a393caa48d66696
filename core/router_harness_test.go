package core

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/encodeous/trustbgp/protocol"
	"github.com/encodeous/trustbgp/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// RouterHarness records everything route processing asks the router to do
type RouterHarness struct {
	live    []state.RouterId
	actions []HarnessEvent
	logs    []RouterEvent
}

func (h *RouterHarness) SendUpdate(neigh state.RouterId, asPath []uint16, networks []netip.Prefix) {
	h.actions = append(h.actions, MakeEvent("UPDATE", neigh, slices.Clone(asPath), slices.Clone(networks)))
}

func (h *RouterHarness) SendWithdraw(neigh state.RouterId, networks []netip.Prefix) {
	h.actions = append(h.actions, MakeEvent("WITHDRAW", neigh, slices.Clone(networks)))
}

func (h *RouterHarness) LiveNeighbours() []state.RouterId {
	return h.live
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	h.logs = append(h.logs, event)
}

// Logged returns the events logged since the last call
func (h *RouterHarness) Logged() []RouterEvent {
	x := h.logs
	h.logs = nil
	return x
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

func (h *RouterHarness) GetActions() HarnessEvents {
	x := h.actions
	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) count(msg string, args ...any) int {
	n := 0
	for _, event := range e {
		if event.Message != msg || len(event.Args) < len(args) {
			continue
		}
		match := true
		for i, arg := range args {
			if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Prefix{})) {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.count(msg, args...) > 0 {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.count(msg, args...) > 0 {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

func (e HarnessEvents) AssertCount(t *testing.T, n int, msg string, args ...any) {
	t.Helper()
	if c := e.count(msg, args...); c != n {
		t.Fatal("Expected ", n, " events ", msg, " with args: ", args, ", found ", c, " in ", e)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// MakeRouterState builds the state of router id in AS 65000+id that trusts
// each neighbour with the given direct trust. Weights are 0.6/0.4 with a 0.5
// threshold and an initial voted trust of 0.5.
func MakeRouterState(id state.RouterId, direct map[state.RouterId]float64) *RouterState {
	return &RouterState{
		Id:    id,
		AS:    uint16(state.DefaultASBase + int(id)),
		Table: state.NewRoutingTable(discardLogger()),
		Trust: state.NewTrustModel(state.TrustParams{
			DirectWeight:      state.DefaultDirectWeight,
			VotedWeight:       state.DefaultVotedWeight,
			Threshold:         state.DefaultThreshold,
			InitialVotedTrust: state.DefaultInitialVotedTrust,
			LabelStep:         state.DefaultLabelStep,
		}, direct),
	}
}

func MakeUpdate(asPath []uint16, networks ...string) *protocol.Update {
	upd := &protocol.Update{
		Attributes: []protocol.PathAttribute{protocol.NewAsPathAttr(asPath...)},
		NLRI:       make([]netip.Prefix, 0, len(networks)),
	}
	for _, n := range networks {
		upd.NLRI = append(upd.NLRI, netip.MustParsePrefix(n))
	}
	return upd
}

func pfx(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

func pfxs(s ...string) []netip.Prefix {
	res := make([]netip.Prefix, 0, len(s))
	for _, x := range s {
		res = append(res, pfx(x))
	}
	return res
}
