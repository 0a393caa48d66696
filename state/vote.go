package state

import "fmt"

type Label int

const (
	Untrusted Label = iota
	Trusted
)

func (l Label) String() string {
	if l == Trusted {
		return "trusted"
	}
	return "untrusted"
}

type VoteKind int

const (
	VoteScore VoteKind = iota
	VoteLabel
)

// Vote is either a numeric score or a categorical label
type Vote struct {
	Kind  VoteKind
	Score float64
	Label Label
}

func ScoreVote(score float64) Vote {
	return Vote{Kind: VoteScore, Score: score}
}

func LabelVote(label Label) Vote {
	return Vote{Kind: VoteLabel, Label: label}
}

func (v Vote) String() string {
	if v.Kind == VoteLabel {
		return v.Label.String()
	}
	return fmt.Sprintf("%.3f", v.Score)
}
