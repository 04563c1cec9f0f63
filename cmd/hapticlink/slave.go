package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/environment"
	"github.com/gwillem/hapticlink/pkg/robot"
	"github.com/gwillem/hapticlink/pkg/teleop"
	"github.com/gwillem/hapticlink/pkg/transport"
)

type SlaveCommand struct {
	Listen string `long:"listen" description:"Listen address (overrides network.listen)"`
	Hz     int    `long:"hz" description:"Control loop frequency (overrides loop.hz)"`
	Env    string `long:"env" choice:"field" choice:"wall" choice:"free" description:"Rendered environment (overrides environment.kind)"`
}

func (c *SlaveCommand) apply(cfg *config.Config) error {
	if c.Listen != "" {
		cfg.Network.Listen = c.Listen
	}
	if c.Hz > 0 {
		cfg.Loop.Hz = c.Hz
	}
	if c.Env != "" {
		cfg.Environment.Kind = c.Env
	}
	return cfg.Validate()
}

func (c *SlaveCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fail(os.Stderr, "%v", err)
	}
	if err := c.apply(cfg); err != nil {
		fail(os.Stderr, "%v", err)
	}

	var sink *teleop.LogSink
	if !opts.Headless {
		sink = teleop.NewLogSink(64)
	}
	logger, err := newLogger(cfg, sink)
	if err != nil {
		fail(os.Stderr, "%v", err)
	}

	env, err := environment.New(cfg.Environment)
	if err != nil {
		fail(os.Stderr, "%v", err)
	}

	obs, err := startObserver(cfg, "slave", logger)
	if err != nil {
		return err
	}
	defer obs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := transport.Bind(transport.ListenConfig{
		Addr:          cfg.Network.Listen,
		AcceptTimeout: cfg.Network.AcceptTimeout,
	}, logger, obs.metrics)
	if err != nil {
		return err
	}
	if sink != nil {
		fmt.Printf("Waiting for master on %s...\n", ln.Addr())
	}
	server, err := ln.Accept(ctx)
	if err != nil {
		return fmt.Errorf("no master connected: %w", err)
	}
	defer server.Close()

	var mirror teleop.Mirror
	if cfg.Follower.Port != "" {
		follower, err := openFollower(ctx, cfg.Follower, logger)
		if err != nil {
			return err
		}
		defer follower.Close()
		mirror = follower
	}

	ctrl, err := teleop.NewSlave(env, server, mirror, *cfg, teleop.Deps{Logger: logger, Metrics: obs.metrics})
	if err != nil {
		return err
	}
	return runSession(ctx, "slave", ctrl, server, obs, sink)
}

// openFollower drives the follower arm with the poses the slave renders at.
func openFollower(ctx context.Context, cfg robot.ArmConfig, logger *slog.Logger) (*robot.Follower, error) {
	arm, err := robot.OpenArm(cfg)
	if err != nil {
		return nil, err
	}
	f, err := robot.NewFollower(ctx, arm, cfg, logger)
	if err != nil {
		arm.Close()
		return nil, err
	}
	logger.Info("follower arm opened", "port", cfg.Port, "mirror", cfg.Mirror)
	return f, nil
}
