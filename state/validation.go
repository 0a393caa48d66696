package state

import (
	"fmt"
	"slices"
)

func unitValidator(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%s = %v must be within [0, 1]", name, v)
	}
	return nil
}

func BgpDefaultsValidator(b *BgpDefaults) error {
	if !(b.HoldTimer > 0) {
		return fmt.Errorf("bgp_defaults.hold_timer must be positive")
	}
	if !(b.KeepaliveInterval > 0) {
		return fmt.Errorf("bgp_defaults.keepalive_interval must be positive")
	}
	if b.KeepaliveInterval >= b.HoldTimer {
		return fmt.Errorf("bgp_defaults.keepalive_interval (%v) must be shorter than hold_timer (%v)", b.KeepaliveInterval, b.HoldTimer)
	}
	if !(b.ConnectDelay >= 0) {
		return fmt.Errorf("bgp_defaults.connect_delay must not be negative")
	}
	if b.TTL < 0 || b.TTL > 255 {
		return fmt.Errorf("bgp_defaults.ttl = %d is out of range", b.TTL)
	}
	return nil
}

func TrustDefaultsValidator(t *TrustDefaults) error {
	if !(t.DirectWeight >= 0 && t.VotedWeight >= 0) {
		return fmt.Errorf("trust weights must not be negative")
	}
	for name, v := range map[string]float64{
		"trust_defaults.threshold":           deref(t.Threshold, DefaultThreshold),
		"trust_defaults.initial_voted_trust": deref(t.InitialVotedTrust, DefaultInitialVotedTrust),
		"trust_defaults.label_step":          t.LabelStep,
		"trust_defaults.decay_rate":          t.DecayRate,
	} {
		if err := unitValidator(name, v); err != nil {
			return err
		}
	}
	if !(t.VoteInterval > 0) {
		return fmt.Errorf("trust_defaults.vote_interval must be positive")
	}
	if !slices.Contains([]string{PolicyRandom, PolicyPathLength, PolicyPathLengthLabel}, t.VotePolicy) {
		return fmt.Errorf("unknown vote_policy %q", t.VotePolicy)
	}
	return nil
}

func RouterConfigValidator(cfg *CentralCfg, r *RouterCfg) error {
	if !r.Ip.Is4() {
		return fmt.Errorf("router %s: ip %s is not a valid IPv4 address", r.Id, r.Ip)
	}
	if err := unitValidator(fmt.Sprintf("router %s: direct_trust", r.Id), r.Trust.DirectTrust); err != nil {
		return err
	}
	seen := make(map[RouterId]struct{})
	for _, n := range r.Neighbors {
		if n == r.Id {
			return fmt.Errorf("router %s lists itself as a neighbor", r.Id)
		}
		if _, ok := seen[n]; ok {
			return fmt.Errorf("router %s lists neighbor %s twice", r.Id, n)
		}
		seen[n] = struct{}{}
		other, err := cfg.TryGetRouter(n)
		if err != nil {
			return fmt.Errorf("router %s: neighbor %s not defined", r.Id, n)
		}
		if !other.IsNeighbor(r.Id) {
			return fmt.Errorf("router %s lists %s as a neighbor but not vice versa", r.Id, n)
		}
	}
	for _, o := range r.Trust.Overrides {
		if !r.IsNeighbor(o.Neighbor) {
			return fmt.Errorf("router %s: trust override for %s, which is not a neighbor", r.Id, o.Neighbor)
		}
		if err := unitValidator(fmt.Sprintf("router %s: override direct_trust", r.Id), o.DirectTrust); err != nil {
			return err
		}
	}
	networks := make(map[string]struct{})
	for _, route := range r.RoutingTable {
		if !route.Network.IsValid() || !route.Network.Addr().Is4() {
			return fmt.Errorf("router %s: static route %s is not a valid IPv4 prefix", r.Id, route.Network)
		}
		if _, ok := networks[route.Network.String()]; ok {
			return fmt.Errorf("router %s: duplicate static route for %s", r.Id, route.Network)
		}
		networks[route.Network.String()] = struct{}{}
		if route.NextHop != r.Id && !r.IsNeighbor(route.NextHop) {
			return fmt.Errorf("router %s: static route %s has next hop %s, which is neither itself nor a neighbor", r.Id, route.Network, route.NextHop)
		}
		if len(route.AsPath) > 0xff {
			return fmt.Errorf("router %s: static route %s has an AS path that is too long", r.Id, route.Network)
		}
	}
	return nil
}

// CentralConfigValidator checks an expanded config
func CentralConfigValidator(cfg *CentralCfg) error {
	if len(cfg.Routers) == 0 {
		return fmt.Errorf("no routers defined")
	}
	if err := BgpDefaultsValidator(&cfg.Bgp); err != nil {
		return err
	}
	if err := TrustDefaultsValidator(&cfg.Trust); err != nil {
		return err
	}
	ids := make(map[RouterId]struct{})
	ips := make(map[string]RouterId)
	asns := make(map[uint16]RouterId)
	for i := range cfg.Routers {
		r := &cfg.Routers[i]
		if _, ok := ids[r.Id]; ok {
			return fmt.Errorf("duplicate router id %d", r.Id)
		}
		ids[r.Id] = struct{}{}
		if r.AS == 0 {
			return fmt.Errorf("router %s has no as number, ids outside [0, %d] must set one", r.Id, MaxDefaultId)
		}
		if other, ok := asns[r.AS]; ok {
			return fmt.Errorf("routers %s and %s share as %d", other, r.Id, r.AS)
		}
		asns[r.AS] = r.Id
		if other, ok := ips[r.Ip.String()]; ok {
			return fmt.Errorf("routers %s and %s share ip %s", other, r.Id, r.Ip)
		}
		ips[r.Ip.String()] = r.Id
	}
	for i := range cfg.Routers {
		if err := RouterConfigValidator(cfg, &cfg.Routers[i]); err != nil {
			return err
		}
	}
	return nil
}
