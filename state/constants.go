package state

import (
	"math"
	"time"
)

const (
	// DefaultPort is the well known BGP port
	DefaultPort   = 179
	DefaultASBase = 65000
	// MaxDefaultId is the largest router id whose default AS fits in 16 bits
	MaxDefaultId = RouterId(math.MaxUint16 - DefaultASBase)

	DefaultDirectWeight      = 0.6
	DefaultVotedWeight       = 0.4
	DefaultThreshold         = 0.5
	DefaultInitialVotedTrust = 0.5
	DefaultLabelStep         = 0.1
	DefaultLabelCutoff       = 0.5 // paths of one or two hops are trusted
)

const (
	PolicyRandom          = "random"
	PolicyPathLength      = "path_length"
	PolicyPathLengthLabel = "path_length_label"
)

var (
	DefaultConnectDelay = time.Second * 5
	DefaultVoteInterval = time.Second * 30
	// VoteFreshness is how many vote intervals a vote counts as fresh for decay purposes
	VoteFreshness = 2

	WriteTimeout = time.Second * 5
	DialTimeout  = time.Second * 5

	ConnectRetryMaxElapsed = time.Minute * 2
)
