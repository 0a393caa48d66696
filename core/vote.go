package core

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/encodeous/trustbgp/state"
)

// VotePolicy produces a trust vote for one neighbour. ok is false when the
// policy has no opinion.
type VotePolicy interface {
	Vote(neigh state.RouterId) (vote state.Vote, ok bool)
}

// RandomPolicy votes a uniform score in [0.5, 1.0)
type RandomPolicy struct {
	lock sync.Mutex
	rng  *rand.Rand
}

func NewRandomPolicy(seed uint64) *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *RandomPolicy) Vote(neigh state.RouterId) (state.Vote, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return state.ScoreVote(0.5 + p.rng.Float64()*0.5), true
}

// PathLengthPolicy scores a neighbour by the shortest AS path known through
// it: 1/len(path). Shorter paths are more trusted.
type PathLengthPolicy struct {
	Table *state.RoutingTable
}

func (p *PathLengthPolicy) Vote(neigh state.RouterId) (state.Vote, bool) {
	routes := p.Table.RoutesVia(neigh)
	if len(routes) == 0 {
		return state.Vote{}, false
	}
	shortest := len(routes[0].AsPath)
	for _, r := range routes[1:] {
		shortest = min(shortest, len(r.AsPath))
	}
	// an empty path is a directly attached network
	return state.ScoreVote(1 / float64(max(shortest, 1))), true
}

// LabelPolicy turns the score of another policy into a label
type LabelPolicy struct {
	Inner  VotePolicy
	Cutoff float64
}

func (p *LabelPolicy) Vote(neigh state.RouterId) (state.Vote, bool) {
	v, ok := p.Inner.Vote(neigh)
	if !ok {
		return v, false
	}
	if v.Kind == state.VoteLabel {
		return v, true
	}
	if v.Score >= p.Cutoff {
		return state.LabelVote(state.Trusted), true
	}
	return state.LabelVote(state.Untrusted), true
}

func NewVotePolicy(name string, table *state.RoutingTable, seed uint64) (VotePolicy, error) {
	switch name {
	case state.PolicyRandom, "":
		return NewRandomPolicy(seed), nil
	case state.PolicyPathLength:
		return &PathLengthPolicy{Table: table}, nil
	case state.PolicyPathLengthLabel:
		return &LabelPolicy{Inner: &PathLengthPolicy{Table: table}, Cutoff: state.DefaultLabelCutoff}, nil
	default:
		return nil, fmt.Errorf("unknown vote policy %q", name)
	}
}

// VotingMechanism periodically produces one vote per neighbour
type VotingMechanism struct {
	Neighbours []state.RouterId
	Policy     VotePolicy
}

// Exchange returns the votes of this round. Neighbours the policy has no
// opinion on are left out.
func (v *VotingMechanism) Exchange() map[state.RouterId]state.Vote {
	votes := make(map[state.RouterId]state.Vote, len(v.Neighbours))
	for _, n := range v.Neighbours {
		if vote, ok := v.Policy.Vote(n); ok {
			votes[n] = vote
		}
	}
	return votes
}
