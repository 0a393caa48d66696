package state

import (
	"fmt"
	"net/netip"
	"slices"
	"time"
)

type RouterId int

func (id RouterId) String() string {
	return fmt.Sprintf("R%d", int(id))
}

// StaticRoute is a routing table entry installed at boot.
type StaticRoute struct {
	Network netip.Prefix `yaml:"network"`
	// NextHop is the router id the route is reached through, the owning router's own id for locally originated networks
	NextHop RouterId `yaml:"next_hop"`
	AsPath  []uint16 `yaml:"as_path"`
}

type TrustOverride struct {
	Neighbor    RouterId `yaml:"neighbor"`
	DirectTrust float64  `yaml:"direct_trust"`
}

type TrustCfg struct {
	// DirectTrust applies to every neighbour without an override
	DirectTrust float64         `yaml:"direct_trust"`
	Overrides   []TrustOverride `yaml:"overrides,omitempty"`
}

type RouterCfg struct {
	Id           RouterId      `yaml:"id"`
	Ip           netip.Addr    `yaml:"ip"`
	AS           uint16        `yaml:"as,omitempty"`   // defaults to DefaultASBase + Id
	Port         uint16        `yaml:"port,omitempty"` // overrides BgpDefaults.Port
	Neighbors    []RouterId    `yaml:"neighbors"`
	Trust        TrustCfg      `yaml:"trust"`
	RoutingTable []StaticRoute `yaml:"routing_table,omitempty"`
}

// BgpDefaults holds session timers. All durations are in seconds.
type BgpDefaults struct {
	HoldTimer         float64 `yaml:"hold_timer"`
	KeepaliveInterval float64 `yaml:"keepalive_interval"`
	Port              uint16  `yaml:"port,omitempty"`
	ConnectDelay      float64 `yaml:"connect_delay,omitempty"`
	ConnectRetry      bool    `yaml:"connect_retry,omitempty"` // retry failed outbound connects with exponential backoff
	TTL               int     `yaml:"ttl,omitempty"`           // IP TTL set on session sockets, 0 keeps the OS default
}

type TrustDefaults struct {
	DirectWeight      float64 `yaml:"direct_weight,omitempty"`
	VotedWeight       float64 `yaml:"voted_weight,omitempty"`
	// Threshold and InitialVotedTrust are pointers so an explicit 0 survives expansion
	Threshold         *float64 `yaml:"threshold,omitempty"`
	InitialVotedTrust *float64 `yaml:"initial_voted_trust,omitempty"`
	LabelStep         float64 `yaml:"label_step,omitempty"`
	DecayRate         float64 `yaml:"decay_rate,omitempty"` // 0 disables decay
	VoteInterval      float64 `yaml:"vote_interval,omitempty"`
	VotePolicy        string  `yaml:"vote_policy,omitempty"`
}

// CentralCfg is the boot document shared by every router in the simulation
type CentralCfg struct {
	Bgp     BgpDefaults   `yaml:"bgp_defaults"`
	Trust   TrustDefaults `yaml:"trust_defaults,omitempty"`
	Routers []RouterCfg   `yaml:"routers"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (b BgpDefaults) HoldDuration() time.Duration {
	return seconds(b.HoldTimer)
}

func (b BgpDefaults) KeepaliveDuration() time.Duration {
	return seconds(b.KeepaliveInterval)
}

func (b BgpDefaults) ConnectDelayDuration() time.Duration {
	return seconds(b.ConnectDelay)
}

func (t TrustDefaults) VoteDuration() time.Duration {
	return seconds(t.VoteInterval)
}

func (c *CentralCfg) TryGetRouter(id RouterId) (RouterCfg, error) {
	idx := slices.IndexFunc(c.Routers, func(cfg RouterCfg) bool {
		return cfg.Id == id
	})
	if idx == -1 {
		return RouterCfg{}, fmt.Errorf("router %s not found", id)
	}
	return c.Routers[idx], nil
}

func (c *CentralCfg) GetRouter(id RouterId) RouterCfg {
	cfg, err := c.TryGetRouter(id)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *CentralCfg) IsRouter(id RouterId) bool {
	_, err := c.TryGetRouter(id)
	return err == nil
}

// FindRouterByAddr maps a peer address back to a router id
func (c *CentralCfg) FindRouterByAddr(addr netip.Addr) (RouterId, bool) {
	addr = addr.Unmap()
	for _, r := range c.Routers {
		if r.Ip == addr {
			return r.Id, true
		}
	}
	return 0, false
}

// ListenPort returns the port the router accepts sessions on
func (c *CentralCfg) ListenPort(id RouterId) uint16 {
	r := c.GetRouter(id)
	if r.Port != 0 {
		return r.Port
	}
	return c.Bgp.Port
}

func (c *CentralCfg) ListenAddr(id RouterId) netip.AddrPort {
	return netip.AddrPortFrom(c.GetRouter(id).Ip, c.ListenPort(id))
}

func (r RouterCfg) IsNeighbor(id RouterId) bool {
	return slices.Contains(r.Neighbors, id)
}

// DirectTrustFor returns the configured trust in the given neighbour
func (r RouterCfg) DirectTrustFor(id RouterId) float64 {
	for _, o := range r.Trust.Overrides {
		if o.Neighbor == id {
			return o.DirectTrust
		}
	}
	return r.Trust.DirectTrust
}

// Edges returns every undirected neighbour relation once, lower id first
func (c *CentralCfg) Edges() []Pair[RouterId, RouterId] {
	edges := make([]Pair[RouterId, RouterId], 0)
	for _, r := range c.Routers {
		for _, n := range r.Neighbors {
			if r.Id < n {
				edges = append(edges, Pair[RouterId, RouterId]{r.Id, n})
			}
		}
	}
	SortPairs(edges)
	return edges
}

func Float(v float64) *float64 {
	return &v
}

// ExpandCentralConfig fills in defaults for omitted values
func ExpandCentralConfig(cfg *CentralCfg) {
	if cfg.Bgp.Port == 0 {
		cfg.Bgp.Port = DefaultPort
	}
	if cfg.Bgp.ConnectDelay == 0 {
		cfg.Bgp.ConnectDelay = DefaultConnectDelay.Seconds()
	}
	t := &cfg.Trust
	if t.DirectWeight == 0 && t.VotedWeight == 0 {
		t.DirectWeight = DefaultDirectWeight
		t.VotedWeight = DefaultVotedWeight
	}
	if t.Threshold == nil {
		t.Threshold = Float(DefaultThreshold)
	}
	if t.InitialVotedTrust == nil {
		t.InitialVotedTrust = Float(DefaultInitialVotedTrust)
	}
	if t.LabelStep == 0 {
		t.LabelStep = DefaultLabelStep
	}
	if t.VoteInterval == 0 {
		t.VoteInterval = DefaultVoteInterval.Seconds()
	}
	if t.VotePolicy == "" {
		t.VotePolicy = PolicyRandom
	}
	for i := range cfg.Routers {
		r := &cfg.Routers[i]
		r.Ip = r.Ip.Unmap()
		// ids past MaxDefaultId need an explicit as
		if r.AS == 0 && r.Id >= 0 && r.Id <= MaxDefaultId {
			r.AS = uint16(DefaultASBase + int(r.Id))
		}
		for j := range r.RoutingTable {
			r.RoutingTable[j].Network = r.RoutingTable[j].Network.Masked()
		}
	}
}
