package robot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gwillem/hapticlink/pkg/device"
	"github.com/gwillem/hapticlink/pkg/queue"
)

// Follower mirrors commanded poses onto an arm. Mirror never blocks: a background
// writer sends the newest pose and skips any it could not keep up with.
type Follower struct {
	joints Joints
	cfg    ArmConfig
	logger *slog.Logger

	latest queue.Mailbox[device.Pose]
	wake   chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFollower enables torque on joints and starts the writer.
func NewFollower(ctx context.Context, joints Joints, cfg ArmConfig, logger *slog.Logger) (*Follower, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultScale
	}
	if err := joints.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enable follower torque: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &Follower{
		joints: joints,
		cfg:    cfg,
		logger: logger.With("component", "follower"),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.write(ctx)
	return f, nil
}

// Mirror queues p as the next target.
func (f *Follower) Mirror(p device.Pose) {
	f.latest.Put(p)
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Skipped returns how many targets were replaced before the writer reached them.
func (f *Follower) Skipped() uint64 {
	return f.latest.Overwritten()
}

// Close stops the writer, relaxes the arm and releases the bus.
func (f *Follower) Close() error {
	f.cancel()
	<-f.done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.joints.Disable(ctx); err != nil {
		f.logger.Warn("failed to disable follower torque", "error", err)
	}
	return f.joints.Close()
}

func (f *Follower) write(ctx context.Context) {
	defer close(f.done)
	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
		}

		p, ok := f.latest.Take()
		if !ok {
			continue
		}
		target := JointsFromPose(p, f.cfg.Scale)
		if f.cfg.Mirror {
			target = Mirror(target)
		}

		err := f.joints.WriteJoints(ctx, target)
		switch {
		case err != nil && !failing:
			f.logger.Warn("follower write failed", "error", err)
			failing = true
		case err == nil && failing:
			f.logger.Info("follower writes recovered")
			failing = false
		}
	}
}
