package state

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
)

// Env can be read from any Goroutine
type Env struct {
	CentralCfg
	Self    RouterCfg
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
	Clock   clock.Clock
}

// NewEnv builds the environment for router id from an expanded, validated config
func NewEnv(ctx context.Context, cfg CentralCfg, id RouterId, log *slog.Logger, clk clock.Clock) (*Env, error) {
	self, err := cfg.TryGetRouter(id)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	return &Env{
		CentralCfg: cfg,
		Self:       self,
		Context:    ctx,
		Cancel:     cancel,
		Log:        log,
		Clock:      clk,
	}, nil
}

func (e *Env) Id() RouterId {
	return e.Self.Id
}
