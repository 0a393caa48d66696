package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/encodeous/trustbgp/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
)

type Options struct {
	ConfigPath string
	Id         state.RouterId
	LogPath    string
	DebugAddr  string
	Verbose    bool
}

// ReadCentralConfig loads, expands and validates the boot document. JSON
// documents are accepted as well.
func ReadCentralConfig(configPath string) (*state.CentralCfg, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg state.CentralCfg
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	state.ExpandCentralConfig(&cfg)
	err = state.CentralConfigValidator(&cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &cfg, nil
}

func NewLogger(id state.RouterId, logPath string, level slog.Level) (*slog.Logger, func() error, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: id.String(),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))
	closer := func() error { return nil }
	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Bootstrap reads the config and runs the router selected by opts.Id until
// interrupted.
func Bootstrap(opts Options) error {
	cfg, err := ReadCentralConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if !cfg.IsRouter(opts.Id) {
		return fmt.Errorf("router %d is not defined in %s", int(opts.Id), opts.ConfigPath)
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, closeLog, err := NewLogger(opts.Id, opts.LogPath, level)
	if err != nil {
		return err
	}
	defer closeLog()
	return Start(context.Background(), *cfg, opts, logger)
}

func Start(ctx context.Context, cfg state.CentralCfg, opts Options, logger *slog.Logger) error {
	env, err := state.NewEnv(ctx, cfg, opts.Id, logger, nil)
	if err != nil {
		return err
	}
	defer env.Cancel(nil)
	r, err := NewRouter(env)
	if err != nil {
		return err
	}
	r.DebugAddr = opts.DebugAddr

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			env.Cancel(errors.New("received shutdown signal"))
		case <-env.Context.Done():
		}
	}()

	env.Log.Info("router initialized. To gracefully exit, send SIGINT or Ctrl+C.", "neighbors", env.Self.Neighbors)
	return r.Run()
}
