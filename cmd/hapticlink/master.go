package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/device"
	"github.com/gwillem/hapticlink/pkg/metric"
	"github.com/gwillem/hapticlink/pkg/robot"
	"github.com/gwillem/hapticlink/pkg/teleop"
	"github.com/gwillem/hapticlink/pkg/transport"
)

type MasterCommand struct {
	Slave  string `long:"slave" description:"Slave address host:port (overrides network.slave_addr)"`
	Hz     int    `long:"hz" description:"Control loop frequency (overrides loop.hz)"`
	Mode   string `long:"mode" choice:"none" choice:"tdpa" choice:"iss" description:"Initial stabilizer (overrides loop.mode)"`
	Device string `long:"device" choice:"simulated" choice:"so101" description:"Input device (overrides device.kind)"`
}

// masterLink is a connected client or the offline stand-in.
type masterLink interface {
	teleop.ForceLink
	linkRunner
}

func (c *MasterCommand) apply(cfg *config.Config) error {
	if c.Slave != "" {
		cfg.Network.SlaveAddr = c.Slave
	}
	if c.Hz > 0 {
		cfg.Loop.Hz = c.Hz
	}
	if c.Mode != "" {
		cfg.Loop.Mode = c.Mode
	}
	if c.Device != "" {
		cfg.Device.Kind = c.Device
	}
	return cfg.Validate()
}

func (c *MasterCommand) Execute(args []string) error {
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

	obs, err := startObserver(cfg, "master", logger)
	if err != nil {
		return err
	}
	defer obs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := openDevice(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	link := dialSlave(ctx, cfg, logger, obs.metrics)
	defer link.Close()

	ctrl, err := teleop.NewMaster(dev, link, *cfg, teleop.Deps{Logger: logger, Metrics: obs.metrics})
	if err != nil {
		return err
	}
	return runSession(ctx, "master", ctrl, link, obs, sink)
}

// openDevice opens the configured input device.
func openDevice(ctx context.Context, cfg *config.Config, logger *slog.Logger) (device.Device, error) {
	switch cfg.Device.Kind {
	case "so101":
		leader := cfg.Device.Leader
		if leader.Port == "" || !leader.IsCalibrated() {
			return nil, fmt.Errorf("leader arm not configured; run 'hapticlink setup' first")
		}
		arm, err := robot.OpenArm(leader)
		if err != nil {
			return nil, err
		}
		l, err := robot.NewLeader(ctx, arm, leader, logger)
		if err != nil {
			arm.Close()
			return nil, err
		}
		logger.Info("leader arm opened", "port", leader.Port)
		return l, nil
	default:
		sim := device.DefaultSimulatedConfig()
		sim.Amplitude = mgl64.Vec3(cfg.Device.Amplitude)
		if cfg.Device.Frequency > 0 {
			sim.Frequency = cfg.Device.Frequency
		}
		logger.Info("simulated device", "amplitude", sim.Amplitude, "frequency", sim.Frequency)
		return device.NewSimulated(sim), nil
	}
}

// dialSlave connects to the slave. When it cannot be reached the master still
// runs, without force feedback.
func dialSlave(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) masterLink {
	client, err := transport.Dial(ctx, transport.DialConfig{
		Addr:      cfg.Network.SlaveAddr,
		LocalPort: cfg.Network.LocalPort,
		Timeout:   cfg.Network.DialTimeout,
	}, logger, metrics)
	if err != nil {
		logger.Warn("slave unreachable, running without force feedback", "addr", cfg.Network.SlaveAddr, "error", err)
		return transport.Offline{}
	}
	return client
}
