// Package teleop runs the fixed-rate control loops of the two link ends: the Master
// reads the operator's device and renders the remote force, the Slave renders the
// environment at the commanded pose.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/metric"
	"github.com/gwillem/hapticlink/pkg/rt"
)

// Stop polls for loop exit this often, at most stopPolls times.
const (
	stopPoll  = 5 * time.Millisecond
	stopPolls = 200
)

// deviceErrorEvery limits repeated device error logs.
const deviceErrorEvery = 2 * time.Second

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("control loop did not stop")

// Snapshot is a read-only view of one tick, for display only.
type Snapshot struct {
	Role      string        `json:"role"`
	Tick      uint64        `json:"tick"`
	Time      time.Time     `json:"time"`
	Mode      control.Mode  `json:"mode"`
	Position  mgl64.Vec3    `json:"position"`
	Velocity  mgl64.Vec3    `json:"velocity"`
	Force     mgl64.Vec3    `json:"force"`
	EIn       mgl64.Vec3    `json:"e_in"`
	EOut      mgl64.Vec3    `json:"e_out"`
	ERecv     mgl64.Vec3    `json:"e_recv"`
	RoundTrip time.Duration `json:"round_trip"`
	Sent      uint64        `json:"sent"`
	Received  uint64        `json:"received"`
	EnvOff    bool          `json:"environment_off,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// Deps are the collaborators shared by both controllers. All fields are optional.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics
	// Now is the clock; tests replace it.
	Now func() time.Time
}

func (d *Deps) fill() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// runner is the loop machinery shared by Master and Slave.
type runner struct {
	role     string
	hz       int
	interval time.Duration
	realtime bool
	priority int
	logger   *slog.Logger
	metrics  *metric.Metrics
	now      func() time.Time

	// snapshotEvery is the tick decimation of States; 0 disables snapshots.
	snapshotEvery uint64
	stateCh       chan Snapshot
	commands      chan control.Mode

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastDeviceLog time.Time
	deviceErrors  uint64
}

func newRunner(role string, hz, snapshotHz int, realtime bool, priority int, deps Deps) *runner {
	if hz <= 0 {
		hz = 1000
	}
	r := &runner{
		role:     role,
		hz:       hz,
		interval: time.Second / time.Duration(hz),
		realtime: realtime,
		priority: priority,
		logger:   deps.Logger.With("role", role),
		metrics:  deps.Metrics,
		now:      deps.Now,
		stateCh:  make(chan Snapshot, 1),
		commands: make(chan control.Mode, 8),
		done:     make(chan struct{}),
	}
	if snapshotHz > 0 {
		r.snapshotEvery = uint64(max(1, hz/snapshotHz))
	}
	return r
}

// States returns a channel that receives snapshot updates. Only the newest
// snapshot is kept when the reader falls behind.
func (r *runner) States() <-chan Snapshot {
	return r.stateCh
}

// Hz returns the control frequency.
func (r *runner) Hz() int {
	return r.hz
}

// SetMode requests a stabilizer switch, applied at the start of the next tick.
// It reports false when the command queue is full.
func (r *runner) SetMode(m control.Mode) bool {
	select {
	case r.commands <- m:
		return true
	default:
		return false
	}
}

// Done is closed when the loop has exited.
func (r *runner) Done() <-chan struct{} {
	return r.done
}

// Stop cancels the loop and waits, bounded, for it to exit.
func (r *runner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	for range stopPolls {
		select {
		case <-r.done:
			return nil
		default:
			time.Sleep(stopPoll)
		}
	}
	return ErrStopTimeout
}

// run drives tick at the loop rate until ctx ends. It returns at a tick boundary.
func (r *runner) run(ctx context.Context, tick func(ctx context.Context)) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()
	defer close(r.done)
	defer r.cancel()

	if r.realtime {
		class, err := rt.Elevate(r.priority)
		if err != nil {
			r.logger.Warn("control thread not elevated", "class", class, "error", err)
		} else {
			r.logger.Info("control thread elevated", "class", class, "priority", r.priority)
		}
	}

	r.logger.Info("control loop started", "hz", r.hz)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("control loop stopped")
			return nil
		case <-ticker.C:
			start := time.Now()
			tick(ctx)
			r.metrics.Tick(time.Since(start), r.interval)
		}
	}
}

// nextCommand returns a pending mode switch, if any.
func (r *runner) nextCommand() (control.Mode, bool) {
	select {
	case m := <-r.commands:
		return m, true
	default:
		return 0, false
	}
}

func (r *runner) wantSnapshot(tick uint64) bool {
	return r.snapshotEvery > 0 && tick%r.snapshotEvery == 0
}

func (r *runner) sendState(s Snapshot) {
	select {
	case r.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-r.stateCh:
		default:
		}
		select {
		case r.stateCh <- s:
		default:
		}
	}
}

// deviceError logs the first failure and then at most once per deviceErrorEvery.
func (r *runner) deviceError(op string, err error) {
	r.metrics.DeviceError()
	r.deviceErrors++
	now := r.now()
	if now.Sub(r.lastDeviceLog) < deviceErrorEvery {
		return
	}
	r.lastDeviceLog = now
	r.logger.Warn("device "+op+" failed", "error", err, "count", r.deviceErrors)
}
