package robot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/hapticlink/pkg/device"
)

// LeaderPollInterval is how often the leader's joints are sampled. The serial bus is
// far slower than the control loop, so ReadPose serves the latest sample.
const LeaderPollInterval = 10 * time.Millisecond

// Leader is a back-drivable arm used as the master input device. Torque is off, so
// it cannot render force: ApplyWrench only records the request.
type Leader struct {
	joints Joints
	scale  float64
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	pose    device.Pose
	err     error
	sampled time.Time
	wrench  device.Wrench

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeader disables torque on joints and starts sampling them in the background.
func NewLeader(ctx context.Context, joints Joints, cfg ArmConfig, logger *slog.Logger) (*Leader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultScale
	}
	if err := joints.Disable(ctx); err != nil {
		return nil, fmt.Errorf("disable leader torque: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &Leader{
		joints: joints,
		scale:  cfg.Scale,
		logger: logger.With("component", "leader"),
		now:    time.Now,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.sample(ctx)
	go l.poll(ctx)
	return l, nil
}

func (l *Leader) Info() device.Info {
	return device.Info{
		Name:            "SO-101 leader",
		WorkspaceRadius: l.scale,
	}
}

// ReadPose returns the most recent sample. A failed sample is reported until the
// next one succeeds.
func (l *Leader) ReadPose(context.Context) (device.Pose, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pose, l.err
}

func (l *Leader) ApplyWrench(_ context.Context, w device.Wrench) error {
	l.mu.Lock()
	l.wrench = w
	l.mu.Unlock()
	return nil
}

// Wrench returns the last requested wrench.
func (l *Leader) Wrench() device.Wrench {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wrench
}

// Close stops sampling and releases the bus.
func (l *Leader) Close() error {
	l.cancel()
	<-l.done
	return l.joints.Close()
}

func (l *Leader) poll(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(LeaderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sample(ctx)
		}
	}
}

func (l *Leader) sample(ctx context.Context) {
	positions, err := l.joints.ReadJoints(ctx)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		if l.err == nil {
			l.logger.Warn("leader read failed", "error", err)
		}
		l.err = err
		return
	}

	pose := PoseFromJoints(positions, l.scale)
	if !l.sampled.IsZero() {
		if dt := now.Sub(l.sampled).Seconds(); dt > 0 {
			pose.LinearVelocity = pose.Position.Sub(l.pose.Position).Mul(1 / dt)
			pose.GripperAngularVelocity = (pose.GripperAngle - l.pose.GripperAngle) / dt
		}
	}
	l.pose = pose
	l.sampled = now
	l.err = nil
}
