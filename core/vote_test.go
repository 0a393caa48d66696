package core

import (
	"testing"

	"github.com/encodeous/trustbgp/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPolicy map[state.RouterId]state.Vote

func (p fixedPolicy) Vote(neigh state.RouterId) (state.Vote, bool) {
	v, ok := p[neigh]
	return v, ok
}

func TestRandomPolicyRange(t *testing.T) {
	p := NewRandomPolicy(42)
	for range 1000 {
		v, ok := p.Vote(2)
		require.True(t, ok)
		assert.Equal(t, state.VoteScore, v.Kind)
		assert.GreaterOrEqual(t, v.Score, 0.5)
		assert.Less(t, v.Score, 1.0)
	}
}

func TestRandomPolicySeeded(t *testing.T) {
	a, b := NewRandomPolicy(7), NewRandomPolicy(7)
	for range 10 {
		va, _ := a.Vote(2)
		vb, _ := b.Vote(2)
		assert.Equal(t, va, vb)
	}
}

func TestPathLengthPolicy(t *testing.T) {
	table := state.NewRoutingTable(discardLogger())
	table.Add(state.Route{Network: pfx("10.2.0.0/16"), NextHop: 2, AsPath: []uint16{65002}})
	table.Add(state.Route{Network: pfx("10.5.0.0/16"), NextHop: 3, AsPath: []uint16{65003, 65004, 65005, 65006}})
	table.Add(state.Route{Network: pfx("10.6.0.0/16"), NextHop: 3, AsPath: []uint16{65003, 65006}})
	table.Add(state.Route{Network: pfx("10.7.0.0/16"), NextHop: 4})
	p := &PathLengthPolicy{Table: table}

	v, ok := p.Vote(2)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v.Score, 1e-9)

	v, ok = p.Vote(3)
	require.True(t, ok)
	assert.InDelta(t, 0.5, v.Score, 1e-9)

	v, ok = p.Vote(4)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v.Score, 1e-9)

	_, ok = p.Vote(9)
	assert.False(t, ok)
}

func TestLabelPolicy(t *testing.T) {
	p := &LabelPolicy{
		Inner: fixedPolicy{
			2: state.ScoreVote(0.9),
			3: state.ScoreVote(0.2),
			4: state.LabelVote(state.Untrusted),
		},
		Cutoff: state.DefaultLabelCutoff,
	}
	v, ok := p.Vote(2)
	require.True(t, ok)
	assert.Equal(t, state.LabelVote(state.Trusted), v)

	v, _ = p.Vote(3)
	assert.Equal(t, state.LabelVote(state.Untrusted), v)

	v, _ = p.Vote(4)
	assert.Equal(t, state.LabelVote(state.Untrusted), v)

	_, ok = p.Vote(5)
	assert.False(t, ok)
}

func TestNewVotePolicy(t *testing.T) {
	table := state.NewRoutingTable(discardLogger())
	for name, want := range map[string]any{
		"":                          &RandomPolicy{},
		state.PolicyRandom:          &RandomPolicy{},
		state.PolicyPathLength:      &PathLengthPolicy{},
		state.PolicyPathLengthLabel: &LabelPolicy{},
	} {
		p, err := NewVotePolicy(name, table, 1)
		require.NoError(t, err, name)
		assert.IsType(t, want, p, name)
	}
	_, err := NewVotePolicy("majority", table, 1)
	assert.Error(t, err)
}

func TestVoteExchange(t *testing.T) {
	vm := &VotingMechanism{
		Neighbours: []state.RouterId{2, 3, 4},
		Policy: fixedPolicy{
			2: state.ScoreVote(0.7),
			4: state.LabelVote(state.Trusted),
		},
	}
	assert.Equal(t, map[state.RouterId]state.Vote{
		2: state.ScoreVote(0.7),
		4: state.LabelVote(state.Trusted),
	}, vm.Exchange())
}

func TestVotesMoveTrust(t *testing.T) {
	rs := MakeRouterState(1, map[state.RouterId]float64{2: 0.5, 3: 0.5})
	vm := &VotingMechanism{
		Neighbours: []state.RouterId{2, 3},
		Policy: &LabelPolicy{
			Inner:  fixedPolicy{2: state.ScoreVote(0.9), 3: state.ScoreVote(0.1)},
			Cutoff: state.DefaultLabelCutoff,
		},
	}
	// 0.6*0.5 + 0.4*0.5 sits exactly on the threshold
	assert.False(t, rs.Trust.Decide(2))
	for n, v := range vm.Exchange() {
		rs.Trust.UpdateVotedTrust(n, v)
	}
	assert.True(t, rs.Trust.Decide(2))
	assert.False(t, rs.Trust.Decide(3))
	assert.InDelta(t, 0.6, rs.Trust.Score(2).Voted, 1e-9)
	assert.InDelta(t, 0.4, rs.Trust.Score(3).Voted, 1e-9)
}
