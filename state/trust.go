package state

import (
	"maps"
	"math"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type TrustParams struct {
	DirectWeight      float64
	VotedWeight       float64
	Threshold         float64
	InitialVotedTrust float64
	LabelStep         float64
	// Freshness is how long a vote protects voted trust from decay
	Freshness time.Duration
}

func deref(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func TrustParamsFromConfig(t TrustDefaults) TrustParams {
	return TrustParams{
		DirectWeight:      t.DirectWeight,
		VotedWeight:       t.VotedWeight,
		Threshold:         deref(t.Threshold, DefaultThreshold),
		InitialVotedTrust: deref(t.InitialVotedTrust, DefaultInitialVotedTrust),
		LabelStep:         t.LabelStep,
		Freshness:         time.Duration(VoteFreshness) * t.VoteDuration(),
	}
}

type TrustScore struct {
	Direct float64
	Voted  float64
	Blend  float64
	Accept bool
}

// TrustModel decides whether updates from a neighbour are accepted. It is safe for concurrent use.
type TrustModel struct {
	params TrustParams
	lock   sync.Mutex
	direct map[RouterId]float64
	voted  map[RouterId]float64
	fresh  *ttlcache.Cache[RouterId, struct{}]
}

func NewTrustModel(params TrustParams, direct map[RouterId]float64) *TrustModel {
	freshness := params.Freshness
	if freshness <= 0 {
		freshness = time.Duration(VoteFreshness) * DefaultVoteInterval
	}
	return &TrustModel{
		params: params,
		direct: maps.Clone(direct),
		voted:  make(map[RouterId]float64),
		fresh: ttlcache.New[RouterId, struct{}](
			ttlcache.WithTTL[RouterId, struct{}](freshness),
			ttlcache.WithDisableTouchOnHit[RouterId, struct{}](),
		),
	}
}

// NewTrustModelFor builds the trust model of the router described by env
func NewTrustModelFor(env *Env) *TrustModel {
	direct := make(map[RouterId]float64)
	for _, n := range env.Self.Neighbors {
		direct[n] = env.Self.DirectTrustFor(n)
	}
	return NewTrustModel(TrustParamsFromConfig(env.Trust), direct)
}

// clamp keeps v within [0, 1]. NaN counts as no trust.
func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}

func (t *TrustModel) votedLocked(id RouterId) float64 {
	v, ok := t.voted[id]
	if !ok {
		return clamp(t.params.InitialVotedTrust)
	}
	return v
}

func (t *TrustModel) scoreLocked(id RouterId) TrustScore {
	d := t.direct[id]
	v := t.votedLocked(id)
	blend := t.params.DirectWeight*d + t.params.VotedWeight*v
	return TrustScore{
		Direct: d,
		Voted:  v,
		Blend:  blend,
		Accept: blend > t.params.Threshold,
	}
}

// UpdateVotedTrust applies a vote and returns the resulting voted trust.
// Scores replace the voted trust, labels move it by one label step. A NaN
// score is ignored and does not count as a fresh vote.
func (t *TrustModel) UpdateVotedTrust(id RouterId, vote Vote) float64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	cur := t.votedLocked(id)
	if vote.Kind == VoteScore && math.IsNaN(vote.Score) {
		return cur
	}
	switch vote.Kind {
	case VoteLabel:
		if vote.Label == Trusted {
			cur += t.params.LabelStep
		} else {
			cur -= t.params.LabelStep
		}
	default:
		cur = vote.Score
	}
	cur = clamp(cur)
	t.voted[id] = cur
	t.fresh.Set(id, struct{}{}, ttlcache.DefaultTTL)
	return cur
}

// Decide is the gate every inbound update passes through. The blend must be
// strictly greater than the threshold.
func (t *TrustModel) Decide(id RouterId) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.scoreLocked(id).Accept
}

// Decay erodes voted trust toward zero by rate, a fraction of the current
// value. Neighbours with a fresh vote are left alone.
func (t *TrustModel) Decay(id RouterId, rate float64) (float64, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	cur := t.votedLocked(id)
	if !(rate > 0) || t.fresh.Get(id) != nil {
		return cur, false
	}
	cur = clamp(cur * (1 - clamp(rate)))
	t.voted[id] = cur
	return cur, true
}

func (t *TrustModel) Score(id RouterId) TrustScore {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.scoreLocked(id)
}

// Snapshot returns the score of every neighbour with a configured or voted trust
func (t *TrustModel) Snapshot() map[RouterId]TrustScore {
	t.lock.Lock()
	defer t.lock.Unlock()
	res := make(map[RouterId]TrustScore)
	for id := range t.direct {
		res[id] = t.scoreLocked(id)
	}
	for id := range t.voted {
		res[id] = t.scoreLocked(id)
	}
	return res
}
