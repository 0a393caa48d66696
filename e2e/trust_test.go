//go:build e2e

package e2e

import (
	"testing"
	"time"

	"github.com/encodeous/trustbgp/core"
	"github.com/encodeous/trustbgp/state"
)

func TestUntrustedNeighbourIgnored(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	t.Parallel()
	h := NewHarness(t)

	// R1 distrusts R2 and only learns R2's network through R3
	//   R2
	//  /  \
	// R1 - R3
	r1 := h.SimpleRouter(1, 0.9, 2, 3)
	r1.Trust.Overrides = []state.TrustOverride{{Neighbor: 2, DirectTrust: 0.1}}
	r2 := h.SimpleRouter(2, 0.9, 1, 3)
	r3 := h.SimpleRouter(3, 0.9, 1, 2)
	Originate(&r2, "10.2.0.0/16")
	cfg := &state.CentralCfg{
		Bgp: FastTimers(),
		// keep voted trust from moving during the test
		Trust:   state.TrustDefaults{VotePolicy: state.PolicyRandom, VoteInterval: 3600},
		Routers: []state.RouterCfg{r1, r2, r3},
	}
	path := h.WriteConfig(cfg)
	h.StartRouters(path, 1, 2, 3)

	h.WaitForRoute(1, "10.2.0.0/16", func(r core.RouteInfo) bool {
		return r.NextHop == 3
	})
	h.WaitForLog(1, "UPDATE_REJECTED")

	st, err := h.Status(1)
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range st.Trust {
		if tr.Neighbour == 2 && tr.Accept {
			t.Fatalf("R2 should not be trusted: %+v", tr)
		}
	}

	// stays that way
	time.Sleep(3 * time.Second)
	h.WaitForRoute(1, "10.2.0.0/16", func(r core.RouteInfo) bool {
		return r.NextHop == 3
	})
}
